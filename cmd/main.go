package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cnc-lab/talk.git/internal/backend/localauth"
	"github.com/cnc-lab/talk.git/internal/backend/localblob"
	"github.com/cnc-lab/talk.git/internal/backend/pebbletree"
	"github.com/cnc-lab/talk.git/internal/chat"
	"github.com/cnc-lab/talk.git/internal/config"
	"github.com/cnc-lab/talk.git/internal/handlers"
)

var rootCmd = &cobra.Command{
	Use:   "talk",
	Short: "Mobile-styled realtime chat screens",
	RunE:  runServer,
}

var (
	flagAddr      string
	flagDataDir   string
	flagBlobDir   string
	flagPublicDir string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAddr, "addr", "", "listen address (default from TALK_ADDR)")
	flags.StringVar(&flagDataDir, "data-dir", "", "realtime tree store directory (default from TALK_DATA_DIR)")
	flags.StringVar(&flagBlobDir, "blob-dir", "", "blob store directory (default from TALK_BLOB_DIR)")
	flags.StringVar(&flagPublicDir, "public-dir", "", "templates and static assets (default from TALK_PUBLIC_DIR)")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute talk command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagBlobDir != "" {
		cfg.BlobDir = flagBlobDir
	}
	if flagPublicDir != "" {
		cfg.PublicDir = flagPublicDir
	}

	tree, err := pebbletree.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	blobs, err := localblob.New(cfg.BlobDir, "/files")
	if err != nil {
		return err
	}
	auth := localauth.New(tree)
	sessions := chat.NewSessions()
	h := handlers.New(auth, tree, blobs, sessions)

	engine := html.New(cfg.PublicDir+"/views", ".html")
	app := fiber.New(fiber.Config{Views: engine})

	app.Static("/", cfg.PublicDir)
	app.Static("/files", cfg.BlobDir)

	// WS & APIs
	app.Get("/api/ws", websocket.New(h.EventsHandler))
	app.Post("/api/login", h.LoginHandler)   // ?nick=
	app.Post("/api/logout", h.LogoutHandler)
	app.Get("/api/rooms", h.RoomsHandler)
	app.Post("/api/room/create", h.CreateRoomHandler) // ?name=&description=
	app.Post("/api/room/select", h.SelectRoomHandler) // ?room_id=
	app.Get("/api/friends", h.FriendsHandler)
	app.Post("/api/friend/select", h.SelectFriendHandler) // ?uid=
	app.Get("/api/messages", h.MessagesHandler)
	app.Post("/api/thread/open", h.OpenThreadHandler)
	app.Post("/api/message", h.SubmitHandler) // form content=
	app.Post("/api/typing", h.TypingHandler)  // form content=
	app.Post("/api/upload", h.UploadHandler)  // multipart file=
	app.Post("/api/profile/image", h.AvatarHandler)
	app.Get("/api/errors", h.ErrorsHandler)

	// Screens
	app.Get("/", h.Page("people"))
	app.Get("/chat", h.Page("chat"))
	app.Get("/chatplus", h.Page("chatplus"))
	app.Get("/chatroom", h.Page("chatroom"))
	app.Get("/more", h.Page("more"))

	go func() {
		if err := app.Listen(cfg.Addr); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()
	log.Info().Str("addr", cfg.Addr).Msg("talk serving")

	<-ctx.Done()
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := tree.Close(); err != nil {
		log.Warn().Err(err).Msg("tree store close")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
