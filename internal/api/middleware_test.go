package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anonchat/anonchat/internal/testutil"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	app := &AnonChatApp{log: testutil.TestLogger(t)}

	// handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
}

func TestErrorHandler_NonErrorPanic(t *testing.T) {
	app := &AnonChatApp{log: testutil.TestLogger(t)}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("plain string panic")
	})

	rr := httptest.NewRecorder()
	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestErrorHandler_NoPanic(t *testing.T) {
	app := &AnonChatApp{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called, "expected the wrapped handler to run")
	assert.Equal(t, http.StatusOK, rr.Code)
}
