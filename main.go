package main

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"sensorhub-service/api"
	_ "sensorhub-service/docs"

	_ "sensorhub-service/service"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title 传感器数据汇聚服务 API
// @version 1.0
// @description IoT传感器温湿度数据接入、清洗、窗口聚合与训练集导出服务
// @BasePath /swagger/sensorhub-service
func main() {
	port := 80
	if val := os.Getenv("LISTEN_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			port = p
		}
	}

	mux := chi.NewRouter()
	mount := func(r chi.Router) {
		api.InitRoute(r.(*chi.Mux))
		r.Handle("/metrics", promhttp.Handler())
		r.Handle("/swagger*", httpSwagger.WrapHandler)
	}

	// BASE_CONTEXT用于网关前缀部署，业务路由整体挂到该前缀之下
	if base := os.Getenv("BASE_CONTEXT"); base != "" {
		mux.Route(base, mount)
	} else {
		mount(mux)
	}

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(port), mux)
	if err := s.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("服务启动失败: %v", err)
	}
}
