package monji

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	apiPrefix             = "/api"
	apiHealthCheck        = "/health"
	apiPathLogin          = "/api/login"
	apiPathLogout         = "/api/logout"
	apiPathLoggedIn       = "/logged_in"
	apiPathQuestions      = "/questions"
	apiPathQuestionDetail = "/questions/:id"
	apiPathLeaderboard    = "/leaderboard/:guild_id"
	apiPathGames          = "/games"
	apiPathConfig         = "/config"
	apiPathPause          = "/pause"
	apiPathQuit           = "/quit"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var structValidator = validator.New()

//nolint:gochecknoinits
func init() {
	structValidator.SetTagName("binding")
}

// API is the admin HTTP server: question management, leaderboards,
// runtime config, and remote shutdown.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine

	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(m *Monji, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              setupLogger.With(loggerNameKey, "api"),
	}
	apiHandlers := newAPIHandlers(m)
	api.handlers = apiHandlers

	store := cookie.NewStore(apiHandlers.secretKey)
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			Path:     "/",
			MaxAge:   int(config.SessionMaxAge / time.Second),
			Secure:   config.SSL.Cert != "",
			HttpOnly: true,
			SameSite: sameSite,
		},
	)
	r.Use(sessions.Sessions(sessionVarName, store))

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	if config.SSL.Cert != "" {
		cert, err := tls.LoadX509KeyPair(config.SSL.Cert, config.SSL.Key)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   config.SSL.TLSMinVersion,
		}
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogin, api.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(m))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathQuestions, apiHandlers.getQuestions)
	protected.POST(apiPathQuestions, apiHandlers.createQuestion)
	protected.DELETE(apiPathQuestionDetail, apiHandlers.deleteQuestion)
	protected.GET(apiPathLeaderboard, apiHandlers.getLeaderboard)
	protected.GET(apiPathGames, apiHandlers.getGames)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathQuit, apiHandlers.botQuit)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return err
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	m         *Monji
	logger    *slog.Logger
	secretKey []byte
}

func newAPIHandlers(m *Monji) *APIHandlers {
	logger := m.logger.With(loggerNameKey, "api")

	var secretKey []byte
	if sk := m.config.API.Secret; sk == "" {
		logger.Warn("api secret not set, generating random secret")
		secretKey = securecookie.GenerateRandomKey(32)
	} else {
		secretKey = []byte(sk)
	}

	return &APIHandlers{
		m:         m,
		logger:    logger,
		secretKey: secretKey,
	}
}

type loginPayload struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required" log:"[redacted]"`
}

// loginHandler validates admin credentials against the runtime config
// and starts a session. Login attempts are rate-limited.
func (a *API) loginHandler(c *gin.Context) {
	if !a.loginRequestLimiter.Allow() {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login loginPayload
	if err := c.ShouldBindJSON(&login); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	config := a.handlers.m.RuntimeConfig()
	if config.AdminUsername == "" || config.AdminPassword == "" {
		a.logger.Warn("admin credentials not configured")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if login.Username != config.AdminUsername {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ok, err := VerifyPassword(config.AdminPassword, login.Password)
	if err != nil || !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, login.Username)
	if err = session.Save(); err != nil {
		a.logger.Error("error saving session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{sessionVarField: login.Username})
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = session.Save()
	c.Status(http.StatusNoContent)
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	session := sessions.Default(c)
	c.JSON(http.StatusOK, gin.H{sessionVarField: session.Get(sessionVarField)})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"status":       "ok",
			"paused":       h.m.RuntimeConfig().Paused,
			"active_games": h.m.games.ActiveCount(),
		},
	)
}

func (h *APIHandlers) getQuestions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := h.m.db.DB().WithContext(c.Request.Context()).Model(&Question{})
	if approved := c.Query("approved"); approved != "" {
		value, err := strconv.ParseBool(approved)
		if err != nil {
			c.AbortWithStatusJSON(
				http.StatusBadRequest,
				gin.H{"error": "invalid value for 'approved'"},
			)
			return
		}
		query = query.Where("approved = ?", value)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("error counting questions", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	var questions []Question
	err := query.Order("id ASC").Limit(limit).Offset(offset).Find(&questions).Error
	if err != nil {
		h.logger.Error("error listing questions", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(
		http.StatusOK, gin.H{
			"total":     total,
			"questions": questions,
		},
	)
}

func (h *APIHandlers) createQuestion(c *gin.Context) {
	var question Question
	if err := c.ShouldBindJSON(&question); err != nil {
		c.AbortWithStatusJSON(
			http.StatusBadRequest,
			gin.H{"error": err.Error()},
		)
		return
	}
	question.ModelUintID = ModelUintID{}

	added, err := InsertQuestions(
		c.Request.Context(),
		h.m.db,
		[]Question{question},
	)
	if err != nil {
		h.logger.Error("error creating question", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if added == 0 {
		c.AbortWithStatusJSON(
			http.StatusConflict,
			gin.H{"error": "question already exists"},
		)
		return
	}
	c.JSON(http.StatusCreated, question)
}

func (h *APIHandlers) deleteQuestion(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	rowsAffected, err := h.m.db.Delete(&Question{}, uint(id))
	if err != nil {
		h.logger.Error("error deleting question", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if rowsAffected == 0 {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandlers) getLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(
		c.DefaultQuery("limit", strconv.Itoa(DefaultLeaderboardLimit)),
	)
	players, err := Leaderboard(
		c.Request.Context(),
		h.m.db,
		c.Param("guild_id"),
		limit,
	)
	if err != nil {
		h.logger.Error("error loading leaderboard", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": players})
}

func (h *APIHandlers) getGames(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var games []GameRecord
	err := h.m.db.DB().WithContext(c.Request.Context()).
		Order("id DESC").
		Limit(limit).
		Find(&games).Error
	if err != nil {
		h.logger.Error("error listing games", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	config := h.m.RuntimeConfig()
	config.AdminPassword = ""
	c.JSON(http.StatusOK, config)
}

// updateRuntimeConfig applies a partial runtime config update. The
// merged result is validated before saving, and other instances are
// notified to reload.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	var update RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.AbortWithStatusJSON(
			http.StatusBadRequest,
			gin.H{"error": err.Error()},
		)
		return
	}

	config := h.m.RuntimeConfig()
	if err := applyRuntimeConfigUpdate(&config, update); err != nil {
		h.logger.Error("error applying config update", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if err := structValidator.Struct(config); err != nil {
		c.AbortWithStatusJSON(
			http.StatusBadRequest,
			gin.H{"error": err.Error()},
		)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.m.db.Save(ctx, &config); err != nil {
		h.logger.Error("error saving runtime config", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	h.m.setRuntimeConfig(&config)
	h.m.dbNotifier.ReloadRuntimeConfig(ctx)

	response := config
	response.AdminPassword = ""
	c.JSON(http.StatusOK, response)
}

// applyRuntimeConfigUpdate copies non-nil update fields onto config.
// A new admin password is hashed before being stored.
func applyRuntimeConfigUpdate(
	config *RuntimeConfig,
	update RuntimeConfigUpdate,
) error {
	if update.Paused != nil {
		config.Paused = *update.Paused
	}
	if update.DiscordCustomStatus != nil {
		config.DiscordCustomStatus = *update.DiscordCustomStatus
	}
	if update.DiscordNotificationChannelID != nil {
		config.DiscordNotificationChannelID = *update.DiscordNotificationChannelID
	}
	if update.TriviaRoundsMin != nil {
		config.TriviaRoundsMin = *update.TriviaRoundsMin
	}
	if update.TriviaRoundsMax != nil {
		config.TriviaRoundsMax = *update.TriviaRoundsMax
	}
	if update.TriviaHintDelay != nil {
		config.TriviaHintDelay = *update.TriviaHintDelay
	}
	if update.TriviaHintInterval != nil {
		config.TriviaHintInterval = *update.TriviaHintInterval
	}
	if update.TriviaFinalWait != nil {
		config.TriviaFinalWait = *update.TriviaFinalWait
	}
	if update.ScrambleHintInterval != nil {
		config.ScrambleHintInterval = *update.ScrambleHintInterval
	}
	if update.ScrambleFinalWait != nil {
		config.ScrambleFinalWait = *update.ScrambleFinalWait
	}
	if update.WinnerGraceWindow != nil {
		config.WinnerGraceWindow = *update.WinnerGraceWindow
	}
	if update.RoundTransitionDelay != nil {
		config.RoundTransitionDelay = *update.RoundTransitionDelay
	}
	if update.ScrambleCooldown != nil {
		config.ScrambleCooldown = *update.ScrambleCooldown
	}
	if update.CommentaryEnabled != nil {
		config.CommentaryEnabled = *update.CommentaryEnabled
	}
	if update.AdminUsername != nil {
		config.AdminUsername = *update.AdminUsername
	}
	if update.AdminPassword != nil {
		hashed, err := HashPassword(*update.AdminPassword)
		if err != nil {
			return err
		}
		config.AdminPassword = hashed
	}
	if update.LogLevel != nil {
		config.LogLevel = *update.LogLevel
	}
	if update.OpenAILogLevel != nil {
		config.OpenAILogLevel = *update.OpenAILogLevel
	}
	if update.DiscordLogLevel != nil {
		config.DiscordLogLevel = *update.DiscordLogLevel
	}
	if update.DiscordGoLogLevel != nil {
		config.DiscordGoLogLevel = *update.DiscordGoLogLevel
	}
	if update.DatabaseLogLevel != nil {
		config.DatabaseLogLevel = *update.DatabaseLogLevel
	}
	if update.APILogLevel != nil {
		config.APILogLevel = *update.APILogLevel
	}
	return nil
}

// botPause stops new games from starting until the paused flag is
// cleared via PATCH /api/config. Already-running games finish normally.
func (h *APIHandlers) botPause(c *gin.Context) {
	h.logger.Warn("received pause request")
	if err := h.m.Pause(c.Request.Context()); err != nil {
		h.logger.Error("error pausing bot", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (h *APIHandlers) botQuit(c *gin.Context) {
	h.logger.Warn("received quit request")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if !h.m.dbNotifier.Stop(ctx) {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

// authMiddleware rejects requests without a valid admin session.
func authMiddleware(m *Monji) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		username, ok := session.Get(sessionVarField).(string)
		if !ok || username == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if username != m.RuntimeConfig().AdminUsername {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware assigns a request ID to each request and echoes
// it in the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		requestID, _ := c.Get(xRequestIDHeader)
		logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			slog.Any(xRequestIDHeader, requestID),
		)
	}
}
