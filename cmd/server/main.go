// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"docspace-go/internal/config"
	"docspace-go/internal/handler"
	"docspace-go/internal/middleware"
	"docspace-go/internal/pipeline"
	"docspace-go/internal/repository"
	"docspace-go/internal/service"
	"docspace-go/pkg/database"
	"docspace-go/pkg/es"
	"docspace-go/pkg/kafka"
	"docspace-go/pkg/log"
	"docspace-go/pkg/storage"
	"docspace-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储、ES 和 Kafka 生产者
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	batchRepository := repository.NewBatchRepository(database.DB, database.RDB)
	documentRepository := repository.NewDocumentRepository(database.DB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepository, jwtManager)
	batchService := service.NewBatchService(batchRepository, kafka.ProduceFileTask)
	documentService := service.NewDocumentService(documentRepository, func(objectKey string, expiry time.Duration) (string, error) {
		return storage.GetPresignedURL(cfg.MinIO.BucketName, objectKey, expiry)
	})

	// 6. 初始化文件处理管道 (Processor)
	processor := pipeline.NewProcessor(cfg.MinIO, cfg.Elasticsearch, documentRepository, batchService)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Batch 路由组，需要认证
		batches := apiV1.Group("/batches")
		batches.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			batchHandler := handler.NewBatchHandler(batchService, cfg.MinIO)
			batches.POST("", batchHandler.CreateBatch)
			batches.GET("/:batchId", batchHandler.GetBatch)
			batches.GET("/:batchId/progress", batchHandler.GetProgress)
			batches.PUT("/:batchId/files/:fileId/content", batchHandler.UploadFileContent)
			batches.POST("/:batchId/commit", batchHandler.CommitBatch)
		}

		// Document 路由组，需要认证
		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			documentHandler := handler.NewDocumentHandler(documentService)
			documents.GET("", documentHandler.ListDocuments)
			documents.GET("/:documentId/download", documentHandler.GetDownloadURL)
			documents.GET("/search", handler.NewSearchHandler(cfg.Elasticsearch).SearchDocuments)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 在优雅停机逻辑中，我们不需要手动关闭 Kafka 消费者，
	// 因为 StartConsumer 是一个循环，会在程序退出时自然结束。
	log.Info("服务已优雅关闭")
}
