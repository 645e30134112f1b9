package roomchat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

type App struct {
	config      *Config
	db          *core.SQLiteDB
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	exit chan int

	feed      core.ChangeFeed
	userStore core.UserStore
	authStore core.AuthStore
	docStore  core.DocStore

	roomSessions *core.SyncMap[connKey, *RoomSession]

	userHandler *UserHandler
	authHandler *AuthHandler
	roomHandler *RoomHandler

	cleanupFuncs []func(context.Context)

	staticFS *StaticFS
}

type AppOption func(*App)

func WithLogger(logger *slog.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

func newLogger(mode string) *slog.Logger {
	level := slog.LevelDebug
	if mode == ProdMode {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// New wires the app. ctx bounds the lifetime of the app: once it is done the app shuts down.
func New(ctx context.Context, config *Config, opts ...AppOption) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}

	app := &App{
		exit:         make(chan int, 1),
		context:      ctx,
		config:       config,
		roomSessions: core.NewSyncMap[connKey, *RoomSession](),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = newLogger(config.Mode)
	}

	if err := app.openStores(); err != nil {
		app.cleanup(context.Background())
		return nil, err
	}

	if config.Static.Dir != "" {
		staticFS, err := NewStaticFS(os.DirFS(config.Static.Dir), "index.html", map[string]string{
			"assets/*": "public, max-age=31536000, immutable",
			"*.html":   "no-cache",
		})
		if err != nil {
			app.cleanup(context.Background())
			return nil, fmt.Errorf("static files: %w", err)
		}
		app.staticFS = staticFS
	}

	app.wsManager = core.NewConnManager(app.context, app.logger, core.WithCheckOrigin(app.checkOrigin))
	app.wsManager.OnConnectionOpened(func(uid string, conn int) {
		app.logger.Debug(fmt.Sprintf("connection opened: %s:%d", uid, conn))
	})
	app.wsManager.OnConnectionClosed(app.onConnectionClosed)

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager)
	app.eventRouter.On(OpenRoomEvent, app.OpenRoomHandler)
	app.eventRouter.On(CloseRoomEvent, app.CloseRoomHandler)
	app.eventRouter.On(SetInputEvent, app.SetInputHandler)
	app.eventRouter.On(SendEvent, app.SendHandler)

	app.userHandler = NewUserHandler(app.userStore)
	app.authHandler = NewAuthHandler(app.authStore)
	app.roomHandler = NewRoomHandler(app.docStore, config.Room.MessageLimit)

	app.routes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Hostname, config.Port),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if config.Mode == ProdMode {
		app.server.TLSConfig = tlsConfig()
	}

	return app, nil
}

func (app *App) openStores() error {
	sqliteOptions := core.SQLiteOptions{
		Mode:        app.config.SQLite.Mode,
		Cache:       "shared",
		JournalMode: "WAL",
		BusyTimeout: 5 * time.Second,
	}
	if sqliteOptions.Mode == "memory" {
		sqliteOptions.JournalMode = ""
	}
	db, err := core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	app.db = db
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(app.context); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if app.config.Feed.RedisURL != "" {
		feed, err := core.NewRedisFeed(app.config.Feed.RedisURL, app.config.Feed.RedisPrefix, app.logger)
		if err != nil {
			return err
		}
		if err := feed.Start(app.context); err != nil {
			feed.Close()
			return err
		}
		app.AddCleanupFunc(func(ctx context.Context) {
			if err := feed.Close(); err != nil {
				app.logger.Error(fmt.Sprintf("close redis feed: %v", err))
			}
		})
		app.feed = feed
	} else {
		app.feed = core.NewLocalFeed()
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.authStore = core.NewSQLiteAuthStore(app.db.DB, app.userStore, app.config.Auth.Secret,
		core.WithTokenExp(app.config.Auth.TokenExp))
	app.docStore = core.NewSQLiteDocStore(app.db.DB, app.feed, core.WithDocStoreLogger(app.logger))
	return nil
}

func (app *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range app.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (app *App) routes() {
	authMiddleware := core.JWTMiddleware(app.authStore)

	app.router = router.New(router.WithLogger(app.logger))
	app.router.MapErrorTo(core.ErrBadCredentials, http.StatusUnauthorized, "invalid credentials")
	app.router.MapErrorTo(core.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated")
	app.router.MapErrorTo(core.ErrConflictedUser, http.StatusConflict, "user already exists")
	app.router.MapErrorTo(core.ErrInsufficientMembers, http.StatusBadRequest, "room has no members")
	app.router.MapErrorTo(core.ErrInvalidQuery, http.StatusBadRequest, "invalid query")

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.With(authMiddleware).Get("/ws", func(w http.ResponseWriter, r *http.Request) error {
		session := core.SessionFromRequest(r)
		// the upgrader has already written the response on failure
		if err := app.wsManager.Connect(session.UID, w, r); err != nil {
			app.logger.Error(fmt.Sprintf("ws connect: %v", err))
		}
		return nil
	})

	app.router.Route("/api", func(api *router.Router) {
		api.Route("/users", func(r *router.Router) {
			r.Post("/", app.userHandler.SignupHandler)
			r.With(authMiddleware).Get("/me", app.userHandler.MeHandler)
			r.With(authMiddleware).Get("/{userID}", app.userHandler.GetUserHandler)
		})

		api.Route("/auth", func(r *router.Router) {
			r.Post("/signin", app.authHandler.SigninHandler)
			r.With(authMiddleware).Post("/signout", app.authHandler.SignoutHandler)
		})

		api.Group(func(r *router.Router) {
			r.Use(authMiddleware)
			r.Get("/rooms", app.roomHandler.GetMyRoomsHandler)
			r.Get("/rooms/{roomKey}/messages", app.roomHandler.GetRoomMessagesHandler)
		})
	})

	if app.staticFS != nil {
		app.router.Router.With(app.staticFS.EtagMiddleware()).Handle("/*", http.FileServer(app.staticFS))
	}
}

// Handler returns the http handler of the app.
func (app *App) Handler() http.Handler {
	return app.router
}

// Listen starts dispatching gateway events. Start calls it.
func (app *App) Listen() {
	app.eventRouter.Listen()
}

// Start serves until the app context is done and exits the process with the shutdown status.
func (app *App) Start() {
	app.Listen()

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()

		if err := app.server.Shutdown(closeCtx); err != nil {
			app.logger.Error(fmt.Sprintf("server shutdown: %v", err))
		}
		if app.Close(closeCtx) {
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		} else {
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.logger.Info(fmt.Sprintf("app running in %s mode on: %s:%d",
		app.config.Mode, app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	}
	os.Exit(code)
}

// Close releases every room session, connection and store of the app.
// It reports false if ctx was done before everything was released.
func (app *App) Close(ctx context.Context) bool {
	app.roomSessions.RRange(func(_ connKey, rs *RoomSession) bool {
		rs.Close()
		return true
	})
	app.eventRouter.Close(ctx)
	app.wsManager.Close(ctx)
	return app.cleanup(ctx)
}

func (app *App) cleanup(ctx context.Context) bool {
	var wg sync.WaitGroup
	for _, f := range app.cleanupFuncs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
