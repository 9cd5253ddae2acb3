package main

import (
	"flag"
	"log"
	"net/http"

	"estatechat/internal/boot"
	"estatechat/internal/server"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides LISTEN_ADDR)")
	flag.Parse()

	cfg, err := boot.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if cfg.IsProduction() && cfg.JWTSecret == "dev-secret" {
		log.Fatal("❌ JWT_SECRET must be set outside dev")
	}

	srv := server.New(cfg.JWTSecret)

	log.Printf("🚀 Chat server starting on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv.Router()); err != nil {
		log.Fatal(err)
	}
}
