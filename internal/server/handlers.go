package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/khaledrefaat/TaskSimple/internal/auth"
	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/notify"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// response is the envelope of auth results and of every error.
type response struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	Error   string              `json:"error,omitempty"`
	User    *schema.User        `json:"user,omitempty"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

const msgInvalidCredentials = "Invalid email or password"

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Printf("Health check failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleSignUp(c echo.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return badRequest(c)
	}

	res, err := s.auth.SignUp(c.Request().Context(), in.Email, in.Password)
	if err != nil {
		return s.fail(c, err)
	}

	s.startSession(c, res)
	return c.JSON(http.StatusCreated, response{
		Success: true,
		Message: "Account created successfully",
		User:    res.User,
	})
}

func (s *Server) handleSignIn(c echo.Context) error {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return badRequest(c)
	}

	res, err := s.auth.SignIn(c.Request().Context(), in.Email, in.Password)
	if errors.Is(err, errs.ErrAuth) {
		return c.JSON(http.StatusUnauthorized, response{
			Message: msgInvalidCredentials,
			Errors: map[string][]string{
				"email":    {msgInvalidCredentials},
				"password": {msgInvalidCredentials},
			},
		})
	}
	if err != nil {
		return s.fail(c, err)
	}

	s.startSession(c, res)
	return c.JSON(http.StatusOK, response{
		Success: true,
		Message: "Signed in successfully",
		User:    res.User,
	})
}

func (s *Server) handleSignOut(c echo.Context) error {
	c.SetCookie(auth.ExpiredCookie(s.secure))
	return c.JSON(http.StatusOK, response{Success: true, Message: "Signed out successfully"})
}

func (s *Server) startSession(c echo.Context, res *auth.Result) {
	c.SetCookie(auth.SessionCookie(res.Token, res.ExpiresAt, s.secure))
	c.Response().Header().Set(auth.RefreshHeader, res.Token)
}

func (s *Server) handleMe(c echo.Context) error {
	user, err := s.store.GetUserByID(c.Request().Context(), userID(c))
	if errors.Is(err, errs.ErrNotFound) {
		// The account was deleted after the token was issued.
		return c.JSON(http.StatusUnauthorized, response{Message: "Not authenticated"})
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, meResponse{ID: user.ID, Email: user.Email})
}

func (s *Server) handleSync(c echo.Context) error {
	snap, err := s.store.GetAll(c.Request().Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleEvents(c echo.Context) error {
	s.hub.ServeWS(c.Response(), c.Request(), userID(c))
	return nil
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var in schema.Project
	if err := c.Bind(&in); err != nil {
		return badRequest(c)
	}

	p, err := s.store.CreateProject(c.Request().Context(), userID(c), &in)
	if err != nil {
		return s.fail(c, err)
	}
	s.announce(c, schema.KindProject, p.ID, schema.OpCreate, p.UpdatedAt)
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleUpdateProject(c echo.Context) error {
	var patch schema.ProjectPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c)
	}

	p, err := s.store.UpdateProject(c.Request().Context(), userID(c), c.Param("id"), patch)
	if err != nil {
		return s.fail(c, err)
	}
	s.announce(c, schema.KindProject, p.ID, schema.OpUpdate, p.UpdatedAt)
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleDeleteProject(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.DeleteProject(c.Request().Context(), userID(c), id); err != nil {
		return s.fail(c, err)
	}
	s.announce(c, schema.KindProject, id, schema.OpDelete, time.Time{})
	return c.JSON(http.StatusOK, response{Success: true, Message: "Project deleted"})
}

func (s *Server) handleCreateTodo(c echo.Context) error {
	var in schema.Todo
	if err := c.Bind(&in); err != nil {
		return badRequest(c)
	}

	t, err := s.store.CreateTodo(c.Request().Context(), userID(c), &in)
	if err != nil {
		return s.fail(c, err)
	}
	s.announce(c, schema.KindTodo, t.ID, schema.OpCreate, t.UpdatedAt)
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) handleUpdateTodo(c echo.Context) error {
	var patch schema.TodoPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c)
	}

	t, err := s.store.UpdateTodo(c.Request().Context(), userID(c), c.Param("id"), patch)
	if err != nil {
		return s.fail(c, err)
	}
	s.announce(c, schema.KindTodo, t.ID, schema.OpUpdate, t.UpdatedAt)
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTodo(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.DeleteTodo(c.Request().Context(), userID(c), id); err != nil {
		return s.fail(c, err)
	}
	s.announce(c, schema.KindTodo, id, schema.OpDelete, time.Time{})
	return c.JSON(http.StatusOK, response{Success: true, Message: "Todo deleted"})
}

func (s *Server) announce(c echo.Context, kind schema.Kind, id string, op schema.Op, at time.Time) {
	s.hub.NotifyChange(userID(c), notify.ChangedData{Kind: kind, ID: id, Op: op, UpdatedAt: at})
}

// fail maps err to a status code. Unexpected errors are logged and
// answered with a generic message.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return c.JSON(http.StatusUnprocessableEntity, response{
			Message: "Validation failed",
			Errors:  errs.FieldErrors(err),
		})
	case errors.Is(err, errs.ErrAuth):
		return c.JSON(http.StatusUnauthorized, response{Message: "Not authenticated"})
	case errors.Is(err, errs.ErrNotFound):
		return c.JSON(http.StatusNotFound, response{Message: "Not found"})
	}

	req := c.Request()
	s.logger.Printf("%s %s failed: %v", req.Method, req.URL.Path, err)
	return c.JSON(http.StatusInternalServerError, response{Message: "Something went wrong"})
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, response{Message: "Invalid request body"})
}
