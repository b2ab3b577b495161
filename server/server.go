package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VoxFM/config"
	"VoxFM/core/auth"
	"VoxFM/core/ingest"
	"VoxFM/core/integrity"
	"VoxFM/core/transcribe"
	"VoxFM/core/upload"
	"VoxFM/db"
	"VoxFM/logger"
	"VoxFM/model"
	"VoxFM/repository"
	"VoxFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	auth.SetSecret(cfg.JWTSecret)

	// 设置服务器超时
	server := &http.Server{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.DB.Close()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 用户表走GORM迁移
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect GORM: %v", err)
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.User{}); err != nil {
		log.Fatalf("Failed to migrate models: %v", err)
	}

	// Redis挂了只影响转写缓存，不拦启动
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis连接失败，转写缓存降级为直查数据库", logger.ErrorField(err))
	} else {
		defer db.CloseRedis()
	}

	trackRepo := repository.NewMySQLTrackRepository()
	userRepo := repository.NewGormUserRepository(db.GormDB)

	store, err := storage.NewStore(cfg, trackRepo)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	provider := transcribe.NewHTTPProvider(cfg)
	var pipelineProvider transcribe.Provider
	if provider != nil {
		pipelineProvider = provider
	} else {
		logger.Warn("未配置语音转写服务，转写请求将被拒绝")
	}
	pipeline := transcribe.NewPipeline(trackRepo, store, pipelineProvider, cfg.STTPacing, cfg.STTTimeout)

	dispatch := func(trackID int64) {}
	if pipeline.Available() {
		dispatch = pipeline.Dispatch
	}

	ingestor := ingest.NewIngestor(trackRepo, store, dispatch)
	uploads := upload.NewManager(trackRepo, store, dispatch, cfg.SessionTTL, cfg.MaxChunkBytes)
	reconciler := integrity.NewReconciler(trackRepo, store)

	// 后台清理过期上传会话
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	uploads.StartSweeper(sweepCtx, cfg.SessionSweepEvery)

	// 初始化处理器
	apiHandler := NewAPIHandler(trackRepo, userRepo, store, ingestor, uploads, pipeline, reconciler, cfg)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range, X-Filename")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)

	// 曲目相关的API端点
	router.HandleFunc("/api/tracks", apiHandler.AuthMiddleware(apiHandler.GetTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", apiHandler.AuthMiddleware(apiHandler.UploadTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/cloud", apiHandler.AuthMiddleware(apiHandler.CreateCloudTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/cloud/batch", apiHandler.AuthMiddleware(apiHandler.CreateCloudTracksBatchHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}", apiHandler.AuthMiddleware(apiHandler.UpdateTrackHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/tracks/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{id}/analysis", apiHandler.AuthMiddleware(apiHandler.UpdateTrackAnalysisHandler)).Methods(http.MethodPut)

	// 上传相关的API端点
	router.HandleFunc("/api/uploads/presign", apiHandler.AuthMiddleware(apiHandler.PresignUploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/uploads/presign/batch", apiHandler.AuthMiddleware(apiHandler.PresignUploadBatchHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/uploads/proxy", apiHandler.AuthMiddleware(apiHandler.ProxyUploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/uploads/chunked", apiHandler.AuthMiddleware(apiHandler.InitChunkedUploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/uploads/chunked/{sessionId}/{index:[0-9]+}", apiHandler.AuthMiddleware(apiHandler.PutChunkHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/uploads/chunked/{sessionId}/finalize", apiHandler.AuthMiddleware(apiHandler.FinalizeChunkedUploadHandler)).Methods(http.MethodPost)

	// 播放相关的API端点（<audio>标签带不了请求头，支持?token=）
	router.HandleFunc("/api/stream/{id}", apiHandler.AuthMiddleware(apiHandler.StreamHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/stream/{id}/proxy", apiHandler.AuthMiddleware(apiHandler.StreamProxyHandler)).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/api/stream/{id}/url", apiHandler.AuthMiddleware(apiHandler.StreamURLHandler)).Methods(http.MethodGet)

	// 转写相关的API端点
	router.HandleFunc("/api/tracks/{id}/transcribe", apiHandler.AuthMiddleware(apiHandler.TranscribeTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/transcribe/all", apiHandler.AuthMiddleware(apiHandler.TranscribeAllHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id}/transcript", apiHandler.AuthMiddleware(apiHandler.GetTranscriptHandler)).Methods(http.MethodGet)

	// 数据清理相关的API端点
	router.HandleFunc("/api/cleanup/no-audio", apiHandler.AuthMiddleware(apiHandler.CleanupNoAudioHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/cleanup/verify-objects", apiHandler.AuthMiddleware(apiHandler.VerifyObjectsHandler)).Methods(http.MethodPost)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		log.Println("Server starting on :8080...")
		log.Println("Upload tracks via POST to http://localhost:8080/api/tracks")
		log.Println("List tracks via GET from http://localhost:8080/api/tracks")
		log.Println("Stream tracks via GET from http://localhost:8080/api/stream/{id}")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号
	<-stop
	log.Println("Shutting down server...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
