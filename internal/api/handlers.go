// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=400"`
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=320"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=4096"`
	NewPassword string `json:"newPassword" validate:"required,max=1024"`
}

type userView struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type registerResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	EmailSent bool   `json:"emailSent"`
}

type loginResponse struct {
	Success bool     `json:"success"`
	Token   string   `json:"token"`
	User    userView `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type meResponse struct {
	Success bool     `json:"success"`
	User    userView `json:"user"`
}

type handlers struct {
	svc    AuthService
	logger *slog.Logger
}

// bind decodes and validates a request body, writing the 400 on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeFailure(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}

	res, err := h.svc.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	msg := "User registered and email sent successfully"
	if !res.WelcomeSent {
		msg = "User registered, but the welcome email could not be sent"
	}
	writeJSON(w, http.StatusCreated, registerResponse{Success: true, Message: msg, EmailSent: res.WelcomeSent})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !bind(w, r, &req) {
		return
	}

	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Token:   res.Token,
		User:    userView{Name: res.Account.DisplayName, Email: res.Account.Identity},
	})
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !bind(w, r, &req) {
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Reset link sent to email"})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !bind(w, r, &req) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password reset successful"})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	id, ok := SubjectFromContext(r.Context())
	if !ok {
		writeFailure(w, http.StatusUnauthorized, "authentication required")
		return
	}

	acct, err := h.svc.Account(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Success: true,
		User:    userView{ID: acct.ID.String(), Name: acct.DisplayName, Email: acct.Identity},
	})
}

