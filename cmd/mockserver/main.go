// cmd/mockserver/main.go
package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/mockserver"
	"github.com/jason-s-yu/sionline/internal/models"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	addr := "localhost:8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	legacyAddr := os.Getenv("LEGACY_ADDR")
	if legacyAddr == "" {
		legacyAddr = "localhost:8081"
	}
	maxMb, _ := strconv.Atoi(os.Getenv("MAX_PACKAGE_MB"))

	srv := mockserver.New(mockserver.Options{
		Name:             "SIOnline mock",
		News:             os.Getenv("NEWS"),
		MaxPackageSizeMb: maxMb,
		ContentSecret:    os.Getenv("CONTENT_SECRET"),
		Logger:           logger,
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	if err := srv.SetBaseURL("http://" + ln.Addr().String()); err != nil {
		logger.Fatalf("base url: %v", err)
	}

	legacyLn, err := net.Listen("tcp", legacyAddr)
	if err != nil {
		logger.Fatalf("listen legacy: %v", err)
	}
	go func() {
		if err := srv.ServeLegacy(legacyLn); err != nil {
			logger.Errorf("legacy server exited: %v", err)
		}
	}()

	if os.Getenv("SEED_GAMES") != "" {
		srv.CreateGame(models.GameRecord{Name: "Welcome quiz", Owner: "host", StartTime: time.Now().UTC()}, "")
		srv.CreateGame(models.GameRecord{Name: "Private room", Owner: "host", Mode: models.ModeTv, StartTime: time.Now().UTC()}, "secret")
	}

	hs := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("Running on %s (legacy on %s)", ln.Addr(), legacyLn.Addr())
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
	_ = legacyLn.Close()
	_ = hs.Close()
}
