package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/knadh/koanf/v2"
	"github.com/xqus/otpcard/internal/card"
	"github.com/xqus/otpcard/internal/store"
	"github.com/xqus/otpcard/internal/store/redis"
	"github.com/zerodha/logf"
)

// App is the global app context that groups the necessary controls
// (store, config etc.) to be injected into the HTTP handlers.
type App struct {
	cards     *card.Service
	store     store.Store
	lo        logf.Logger
	constants constants
}

var (
	ko = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

func main() {
	initConfig()
	lo := initLogger(ko.Bool("app.debug"))

	// Load the store.
	var rc redis.Conf
	ko.UnmarshalWithConf("store.redis", &rc, koanf.UnmarshalConf{Tag: "json"})
	st := redis.New(rc)

	app := &App{
		cards: card.New(st),
		store: st,
		lo:    lo,
		constants: constants{
			CodeLength: ko.Int("app.code_length"),
			NumCodes:   ko.Int("app.num_codes"),
		},
	}

	authCreds := initAuth(lo)
	if len(authCreds) == 0 {
		lo.Fatal("no auth entries found in config")
	}

	// Register handles.
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("otpcard"))
	})
	r.Get("/api/health", wrap(app, handleHealthCheck))
	r.Post("/api/cards", auth(authCreds, wrap(app, handleCreateCard)))
	r.Get("/api/cards/{id}/challenge", auth(authCreds, wrap(app, handleSelectChallenge)))
	r.Post("/api/cards/{id}/validate", auth(authCreds, wrap(app, handleValidateCode)))
	r.Get("/api/cards/{id}/remaining", auth(authCreds, wrap(app, handleRemaining)))

	// HTTP Server.
	timeout := ko.Duration("app.server_timeout")
	if timeout.Seconds() < 1 {
		timeout = time.Second * 5
	}

	srv := &http.Server{
		Addr:         ko.String("app.address"),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		Handler:      r,
	}

	lo.Info("starting server", "address", srv.Addr, "build", buildString)
	if err := srv.ListenAndServe(); err != nil {
		lo.Fatal("couldn't start server", "error", err)
	}
}
