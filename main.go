package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"palaver/internal/auth"
	"palaver/internal/chat"
	"palaver/internal/config"
	"palaver/internal/content"
	"palaver/internal/coord"
	"palaver/internal/filestore"
	"palaver/internal/genai"
	"palaver/internal/models"
	"palaver/internal/notify"
	"palaver/internal/recent"
	"palaver/internal/reply"
	"palaver/internal/storage"
	"palaver/internal/ws"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	addRoom := flag.String("add-room", "", "Room name to create")
	roomPassword := flag.String("room-password", "", "Optional password for -add-room")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	docs, err := storage.NewBboltStorage(ctx, cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = docs.Close() }()

	authService := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, docs)

	if *addUser != "" {
		return createUser(authService, *addUser)
	}
	if *addRoom != "" {
		return createRoom(docs, *addRoom, *roomPassword)
	}

	var store coord.Store
	if len(cfg.CoordAddrs) > 0 {
		redisStore, err := coord.NewRedis(ctx, cfg.CoordAddrs, cfg.CoordPass)
		if err != nil {
			return err
		}
		defer func() { _ = redisStore.Close() }()
		store = redisStore
	} else {
		store = coord.NewMemory(ctx)
	}

	cache := recent.New(store, cfg.RecentCacheTTL, cfg.RecentCacheSize)
	hub := ws.NewHub()
	pusher := notify.New(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
	generator := &genai.Scripted{ChunkDelay: 50 * time.Millisecond}
	replies := reply.NewCoordinator(store, docs, cache, hub, generator, cfg.StreamBufferTTL)

	svc := chat.NewService(chat.Config{
		TakeoverGrace:  cfg.TakeoverGrace,
		HistoryTimeout: cfg.HistoryTimeout,
		PageSize:       cfg.HistoryPageSize,
		MaxRetries:     cfg.MaxLoadRetries,
		AssistantKinds: cfg.AssistantKinds,
	}, store, docs, authService, hub, replies, cache, pusher)

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath, docs)
	if err != nil {
		return err
	}

	wsServer := ws.NewServer(authService, svc, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleConnections)
	mux.HandleFunc("/login", loginHandler(authService))
	mux.HandleFunc("/logout", logoutHandler(authService))
	mux.HandleFunc("/rooms", roomsHandler(authService, docs, store))
	mux.HandleFunc("/upload", uploadHandler(authService, files))
	mux.HandleFunc("/files/", downloadHandler(authService, docs, files))

	apiServer := &http.Server{Addr: cfg.APIAddr, Handler: mux}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", cfg.APIAddr)
		err := apiServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func loginHandler(authService *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		token, err := authService.Login(req.Username, req.Password)
		if err != nil {
			http.Error(w, "Login failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func logoutHandler(authService *auth.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := r.Header.Get("token")
		if _, err := authService.GetIdentity(token); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := authService.Logoff(token); err != nil {
			slog.Warn("logoff failed", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// roomsHandler serves the room directory. The rendered listing is cached in
// the coordination store; membership changes on any process invalidate it.
func roomsHandler(authService *auth.Service, docs *storage.BboltStorage, store coord.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("token")
		}
		if _, err := authService.GetIdentity(token); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		key := coord.RoomListCacheKey("all")
		if cached, err := store.Get(r.Context(), key); err == nil {
			_, _ = io.WriteString(w, cached)
			return
		}

		rooms, err := docs.ListRooms()
		if err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		type roomView struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Protected bool   `json:"protected"`
			Members   int    `json:"members"`
		}
		views := make([]roomView, 0, len(rooms))
		for _, room := range rooms {
			views = append(views, roomView{
				ID:        room.ID,
				Name:      room.Name,
				Protected: room.Protected(),
				Members:   len(room.Members),
			})
		}
		body, err := json.Marshal(views)
		if err != nil {
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		if err := store.Set(r.Context(), key, string(body), time.Minute); err != nil {
			slog.Warn("failed to cache room listing", "error", err)
		}
		_, _ = w.Write(body)
	}
}

func uploadHandler(authService *auth.Service, files *filestore.LocalFileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		identity, err := authService.GetIdentity(r.Header.Get("token"))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()

		id, err := files.Register(file, header.Filename, identity.ID)
		if err != nil {
			slog.Error("upload failed", "identity", identity.ID, "error", err)
			http.Error(w, "Upload failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"fileId": id})
	}
}

func downloadHandler(authService *auth.Service, docs *storage.BboltStorage, files *filestore.LocalFileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("token")
		}
		if _, err := authService.GetIdentity(token); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/files/")
		meta, err := docs.GetFileMetadata(id)
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		blob, err := files.Get(meta.Hash)
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		defer func() { _ = blob.Close() }()

		w.Header().Set("Content-Type", meta.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.DisplayName))
		if _, err := io.Copy(w, blob); err != nil {
			slog.Warn("file download interrupted", "file_id", id, "error", err)
		}
	}
}

func createUser(authService *auth.Service, username string) error {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	password := hex.EncodeToString(b)

	creds, err := authService.AddUser(username, username, password)
	if err != nil {
		return err
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username: %s\n", creds.Username)
	fmt.Printf("Password: %s\n", password)
	return nil
}

func createRoom(docs *storage.BboltStorage, name, password string) error {
	if !content.ValidRoomName(name) {
		return fmt.Errorf("invalid room name %q", name)
	}
	if _, err := docs.GetRoom(name); err == nil {
		return fmt.Errorf("room %q already exists", name)
	}

	room := models.Room{ID: name, Name: name, CreatedAt: time.Now().UnixMilli()}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		room.PasswordHash = string(hash)
	}
	if err := docs.UpsertRoom(room); err != nil {
		return err
	}

	fmt.Printf("Room %q created\n", name)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
