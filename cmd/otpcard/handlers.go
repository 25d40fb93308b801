package main

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xqus/otpcard/internal/card"
	"github.com/xqus/otpcard/internal/store"
)

type httpResp struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type createResp struct {
	ID string `json:"id"`
}

type challengeResp struct {
	Index int `json:"index"`
}

type validateResp struct {
	Valid bool `json:"valid"`
}

type remainingResp struct {
	Remaining int `json:"remaining"`
}

func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
	)

	if err := app.store.Ping(); err != nil {
		sendErrorResponse(w, "Unable to reach store.", http.StatusServiceUnavailable, nil)
		return
	}

	sendResponse(w, "OK")
}

// handleCreateCard issues a new password card and returns its ID.
// The code length and count come from the request, falling back to the
// configured defaults.
func handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)

		rawLength = r.FormValue("length")
		rawNum    = r.FormValue("num")
	)

	length := app.constants.CodeLength
	if rawLength != "" {
		v, err := strconv.Atoi(rawLength)
		if err != nil || v < 1 {
			sendErrorResponse(w, "Invalid `length` value.", http.StatusBadRequest, nil)
			return
		}
		length = v
	}

	num := app.constants.NumCodes
	if rawNum != "" {
		v, err := strconv.Atoi(rawNum)
		if err != nil || v < 1 {
			sendErrorResponse(w, "Invalid `num` value.", http.StatusBadRequest, nil)
			return
		}
		num = v
	}

	id, err := app.cards.Create(length, num)
	if err != nil {
		app.lo.Error("error creating card", "error", err)
		sendErrorResponse(w, "Error creating card.", http.StatusInternalServerError, nil)
		return
	}

	sendResponse(w, createResp{ID: id})
}

// handleSelectChallenge picks a random usable index on a card for the
// caller to challenge the user with.
func handleSelectChallenge(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		id  = chi.URLParam(r, "id")
	)

	index, err := app.cards.Select(id)
	if err != nil {
		sendCardError(w, r, err)
		return
	}

	sendResponse(w, challengeResp{Index: index})
}

// handleValidateCode redeems the code at a challenged index. A wrong
// code or an already-consumed index is a normal valid=false response,
// not an error.
func handleValidateCode(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		id  = chi.URLParam(r, "id")

		rawIndex = r.FormValue("index")
		otpVal   = r.FormValue("otp")
	)

	if otpVal == "" {
		sendErrorResponse(w, "`otp` is empty.", http.StatusBadRequest, nil)
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		sendErrorResponse(w, "Invalid `index` value.", http.StatusBadRequest, nil)
		return
	}

	valid, err := app.cards.Validate(id, index, otpVal)
	if err != nil {
		sendCardError(w, r, err)
		return
	}

	sendResponse(w, validateResp{Valid: valid})
}

// handleRemaining returns the number of unredeemed codes on a card.
func handleRemaining(w http.ResponseWriter, r *http.Request) {
	var (
		app = r.Context().Value("app").(*App)
		id  = chi.URLParam(r, "id")
	)

	n, err := app.cards.Remaining(id)
	if err != nil {
		sendCardError(w, r, err)
		return
	}

	sendResponse(w, remainingResp{Remaining: n})
}

// sendCardError maps card service failures to HTTP responses.
func sendCardError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotExist):
		sendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, card.ErrExhausted):
		sendErrorResponse(w, err.Error(), http.StatusGone, nil)
	case errors.Is(err, card.ErrIntegrity), errors.Is(err, card.ErrDecode):
		app := r.Context().Value("app").(*App)
		app.lo.Error("card failed integrity check", "id", chi.URLParam(r, "id"), "error", err)
		sendErrorResponse(w, "Card data is corrupt.", http.StatusInternalServerError, nil)
	default:
		app := r.Context().Value("app").(*App)
		app.lo.Error("error processing card request", "error", err)
		sendErrorResponse(w, "Error processing request.", http.StatusInternalServerError, nil)
	}
}

// wrap is a middleware that wraps HTTP handlers and injects the "app" context.
func wrap(app *App, next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), "app", app)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sendResponse sends a JSON envelope to the HTTP response.
func sendResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	out, err := json.Marshal(httpResp{Status: "success", Data: data})
	if err != nil {
		sendErrorResponse(w, "Internal Server Error.", http.StatusInternalServerError, nil)
		return
	}

	w.Write(out)
}

// sendErrorResponse sends a JSON error envelope to the HTTP response.
func sendErrorResponse(w http.ResponseWriter, message string, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	resp := httpResp{Status: "error",
		Message: message,
		Data:    data}
	out, _ := json.Marshal(resp)
	w.Write(out)
}

// auth is a simple authentication middleware.
func auth(authMap map[string]string, next http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const authBasic = "Basic"
		var (
			pair  [][]byte
			delim = []byte(":")

			h = r.Header.Get("Authorization")
		)

		// Basic auth scheme.
		if strings.HasPrefix(h, authBasic) {
			payload, err := base64.StdEncoding.DecodeString(string(strings.Trim(h[len(authBasic):], " ")))
			if err != nil {
				sendErrorResponse(w, "Invalid Base64 value in Basic Authorization header.",
					http.StatusUnauthorized, nil)
				return
			}

			pair = bytes.SplitN(payload, delim, 2)
		} else {
			sendErrorResponse(w, "Missing Basic Authorization header.",
				http.StatusUnauthorized, nil)
			return

		}

		if len(pair) != 2 {
			sendErrorResponse(w, "Invalid value in Basic Authorization header.",
				http.StatusUnauthorized, nil)
			return
		}

		var (
			namespace = string(pair[0])
			secret    = pair[1]
		)
		s, ok := authMap[namespace]
		if !ok || subtle.ConstantTimeCompare([]byte(s), secret) != 1 {
			sendErrorResponse(w, "Invalid API credentials.",
				http.StatusUnauthorized, nil)
			return
		}

		ctx := context.WithValue(r.Context(), "namespace", namespace)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
