package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// AuthResult is a successful sign-up or sign-in.
type AuthResult struct {
	User    *schema.User
	Token   string
	Message string
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp creates an account.
func (c *Client) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/signup", email, password)
}

// SignIn exchanges credentials for a session token. Bad credentials return
// errs.ErrAuth.
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/signin", email, password)
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*AuthResult, error) {
	var env apiResponse
	resp, err := c.do(ctx, http.MethodPost, path, "", credentials{Email: email, Password: password}, &env)
	if err != nil {
		return nil, err
	}

	token := resp.Header.Get(RefreshHeader)
	if token == "" {
		for _, ck := range resp.Cookies() {
			if ck.Name == "auth_token" {
				token = ck.Value
			}
		}
	}
	if token == "" || env.User == nil {
		return nil, fmt.Errorf("%s: server returned no session: %w", path, errs.ErrSyncUnavailable)
	}
	return &AuthResult{User: env.User, Token: token, Message: env.Message}, nil
}

// SignOut tells the server the session is over. The token stays valid
// until it expires; callers drop it locally.
func (c *Client) SignOut(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/signout", token, nil, nil)
	return err
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*schema.User, error) {
	var me schema.User
	if _, err := c.do(ctx, http.MethodGet, "/api/me", token, nil, &me); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrAuth
		}
		return nil, err
	}
	return &me, nil
}
