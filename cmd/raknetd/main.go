package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ventosilenzioso/raknet-go/internal/config"
	"github.com/ventosilenzioso/raknet-go/internal/rlog"
	"github.com/ventosilenzioso/raknet-go/pkg/raknet"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to a config file (env RAKNET_* overrides always apply)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus /metrics on, empty disables it")
	flag.Parse()

	rlog.Banner("RakNet Transport Server", version)
	log := rlog.Default()

	if *configPath == "" {
		log.Infof("no config file given, using defaults and RAKNET_* environment overrides")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("configuration error: %v", err)
		os.Exit(1)
	}
	rlog.Success(log, "configuration loaded")
	log.WithField("bind_address", cfg.BindAddress).
		WithField("mtu", cfg.MTU).
		WithField("max_connections", cfg.MaxConnections).
		Infof("starting endpoint")

	collector := raknet.NewCollector("raknetd", nil)
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.WithField("addr", *metricsAddr).Infof("serving metrics")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	sink := raknet.EventSink{
		OnConnect: func(p *raknet.Peer) {
			log.WithField("guid", p.GUID).WithField("addr", p.RemoteAddr).Infof("peer connected")
		},
		OnLogin: func(p *raknet.Peer) {
			rlog.Success(log, "peer logged in")
			log.WithField("guid", p.GUID).Infof("peer logged in")
		},
		OnDisconnect: func(p *raknet.Peer, reason raknet.DisconnectReason) {
			log.WithField("guid", p.GUID).WithField("reason", reason.String()).Infof("peer disconnected")
		},
		OnMessage: func(p *raknet.Peer, channel uint8, payload []byte) {
			log.WithField("guid", p.GUID).WithField("channel", channel).WithField("bytes", len(payload)).Debugf("message received")
		},
		OnHandlerError: func(addr *net.UDPAddr, cause error) {
			log.WithField("addr", addr).Warnf("handler error: %v", cause)
		},
		OnPeerError: func(p *raknet.Peer, cause error) {
			log.WithField("guid", p.GUID).Warnf("peer error: %v", cause)
		},
	}

	server, err := raknet.NewServer(cfg, sink, log, collector)
	if err != nil {
		log.Errorf("failed to construct endpoint: %v", err)
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		log.Errorf("failed to start endpoint: %v", err)
		os.Exit(1)
	}
	rlog.Section("serving")
	log.WithField("addr", server.LocalAddr()).WithField("guid", server.LocalGUID()).Infof("endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	if err := server.Stop(); err != nil {
		log.Errorf("shutdown error: %v", err)
		os.Exit(1)
	}
}
