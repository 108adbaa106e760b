package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-party/auth"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/party"
	"github.com/tcriess/lightspeed-party/persistence"
	"github.com/tcriess/lightspeed-party/spotify"
	"github.com/tcriess/lightspeed-party/types"
	"github.com/tcriess/lightspeed-party/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	client := spotify.NewClient(globalConfig)
	hub := ws.NewHub()
	session := party.NewSession(globalConfig, persister, client, hub)
	hub.SetSession(session)
	authService := auth.NewService(globalConfig, client, persister)

	janitor := party.NewJanitor(globalConfig, session, persister)
	if janitor != nil {
		if err := janitor.Start(); err != nil {
			panic(err)
		}
		defer janitor.Stop()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		persister.Close()
		globals.AppLogger.Error("interrupted!")
		os.Exit(1)
	}()

	router := mux.NewRouter()
	router.HandleFunc("/auth/login", authService.LoginHandler)
	router.HandleFunc("/auth/callback", authService.CallbackHandler)
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		user, err := authService.CurrentUser(r)
		if err != nil {
			http.Error(w, "could not resolve user", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			globals.AppLogger.Error("could not upgrade connection", "error", err)
			return
		}
		serveWs(hub, conn, user)
	})

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, router)
	} else {
		err = http.ListenAndServe(*addr, router)
	}
	if err != nil {
		globals.AppLogger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func serveWs(hub *ws.Hub, conn *websocket.Conn, user *types.User) {
	doneChan := make(chan struct{})
	client := ws.NewClient(hub, conn, user, doneChan)
	hub.Register(client)

	// greet before the pumps start, the send channel is still all ours
	hello, err := json.Marshal(types.ConnectedMessage{
		Action:      "connect",
		UserId:      user.Id,
		DisplayName: user.DisplayName,
	})
	if err == nil {
		client.Send <- hello
	}

	client.Add(2)
	go client.WriteLoop()
	go client.ReadLoop()
	go func() {
		<-doneChan
		hub.Unregister(client)
	}()
}
