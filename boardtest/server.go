package boardtest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jayanth920/taskfront/channel"
	"github.com/jayanth920/taskfront/domain"
)

const (
	updatesChannel    = "board.updates"
	defaultSecret     = "boardtest-secret"
	defaultDedupTTL   = time.Hour
	requestBodyLimit  = 1 << 20
	broadcastDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Options configures a test server. The zero value is usable.
type Options struct {
	// Secret signs and verifies HS256 tokens. Defaults to a fixed value so
	// tests can mint tokens without setup.
	Secret string

	// DedupTTL bounds how long idempotency keys are remembered.
	DedupTTL time.Duration

	Logger *log.Logger
}

// Server is an in-process board backend. Mutations flow through redis
// pub/sub before they reach websocket subscribers, so every connected
// client observes the same broadcast order.
type Server struct {
	URL  string
	Auth *Auth

	logger *log.Logger
	http   *httptest.Server
	mr     *miniredis.Miniredis
	rc     *redis.Client
	store  *taskStore
	dedup  *deduper
	hub    *hub

	// mu serializes read-modify-write cycles on task sets.
	mu sync.Mutex

	cancel context.CancelFunc
	g      *errgroup.Group
}

// Start boots redis, the broadcast pipeline and the HTTP listener.
func Start(opts Options) (*Server, error) {
	if opts.Secret == "" {
		opts.Secret = defaultSecret
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := &Server{
		Auth:   NewAuth(opts.Secret),
		logger: logger,
		mr:     mr,
		rc:     rc,
		store:  &taskStore{rc: rc},
		dedup:  &deduper{rc: rc, ttl: opts.DedupTTL},
		hub:    newHub(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.g = g
	g.Go(func() error { return s.subscribeUpdates(gctx) })

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.register(e)

	s.http = httptest.NewServer(e)
	s.URL = s.http.URL
	return s, nil
}

// Close stops background work, drops all connections and releases redis.
func (s *Server) Close() {
	s.cancel()
	_ = s.g.Wait()
	s.http.CloseClientConnections()
	s.http.Close()
	_ = s.rc.Close()
	s.mr.Close()
}

// MintToken issues a token accepted by this server.
func (s *Server) MintToken(sub string, ttl time.Duration) (string, error) {
	return s.Auth.MintToken(sub, ttl)
}

// SeedBoard stores a board with its tasks. Missing ids and timestamps are
// filled in; ranks are compacted per group. It returns the stored board.
func (s *Server) SeedBoard(board domain.Board, tasks []domain.Task) (domain.Board, error) {
	ctx := context.Background()
	if board.ID == "" {
		board.ID = uuid.NewString()
	}
	if board.CreatedAt.IsZero() {
		board.CreatedAt = time.Now().UTC()
	}
	if err := s.store.SaveBoard(ctx, board); err != nil {
		return domain.Board{}, err
	}

	seed := make([]domain.Task, len(tasks))
	copy(seed, tasks)
	for i := range seed {
		if seed[i].ID == "" {
			seed[i].ID = uuid.NewString()
		}
		if seed[i].CreatedAt.IsZero() {
			seed[i].CreatedAt = time.Now().UTC()
		}
		seed[i].BoardID = board.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveTasks(ctx, board.ID, domain.Renumber(seed)); err != nil {
		return domain.Board{}, err
	}
	return board, nil
}

// Tasks returns the server-side task set of one board.
func (s *Server) Tasks(boardID string) ([]domain.Task, error) {
	return s.store.ListTasks(context.Background(), boardID)
}

func (s *Server) register(e *echo.Echo) {
	e.GET("/api/boards", s.listBoards())
	e.GET("/api/boards/:id", s.getBoard())
	e.GET("/api/boards/:id/tasks", s.listTasks())
	e.POST("/api/boards/:id/tasks", s.createTask())
	e.PUT("/api/tasks/:id", s.updateTask())
	e.DELETE("/api/tasks/:id", s.deleteTask())
	e.GET("/ws", s.handleWS())
}

// subscribeUpdates relays every published frame to the websocket clients of
// the frame's board.
func (s *Server) subscribeUpdates(ctx context.Context) error {
	sub := s.rc.Subscribe(ctx, updatesChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			frame, err := channel.Decode([]byte(msg.Payload))
			if err != nil {
				s.logger.WithError(err).Warn("unparseable update dropped")
				continue
			}
			s.hub.broadcast(frame.Board(), []byte(msg.Payload))
		}
	}
}

func (s *Server) publish(ctx context.Context, msg channel.Message) {
	data, err := channel.Encode(msg)
	if err != nil {
		s.logger.WithError(err).Error("encode broadcast")
		return
	}
	if err := s.rc.Publish(ctx, updatesChannel, data).Err(); err != nil {
		s.logger.WithError(err).Error("publish broadcast")
	}
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type boardsResponse struct {
	Boards []domain.Board `json:"boards"`
}

func (s *Server) listBoards() echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := userIDFrom(c, s.Auth); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}
		boards, err := s.store.ListBoards(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, boardsResponse{Boards: boards})
	}
}

func (s *Server) getBoard() echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := userIDFrom(c, s.Auth); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}
		board, ok, err := s.store.GetBoard(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		if !ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "board not found"})
		}
		return c.JSON(http.StatusOK, board)
	}
}

func (s *Server) listTasks() echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := userIDFrom(c, s.Auth); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}
		ctx := c.Request().Context()
		boardID := c.Param("id")
		if _, ok, err := s.store.GetBoard(ctx, boardID); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		} else if !ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "board not found"})
		}
		tasks, err := s.store.ListTasks(ctx, boardID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func (s *Server) createTask() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		uid, err := userIDFrom(c, s.Auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}
		boardID := c.Param("id")
		if _, ok, err := s.store.GetBoard(ctx, boardID); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		} else if !ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "board not found"})
		}

		lr := io.LimitReader(c.Request().Body, requestBodyLimit)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var draft domain.TaskDraft
		if err := dec.Decode(&draft); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed task draft"})
		}
		if err := domain.ValidateTitle(draft.Title); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		if draft.Group == "" {
			draft.Group = domain.GroupTodo
		}
		if !draft.Group.Valid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown group"})
		}

		key := c.Request().Header.Get("Idempotency-Key")
		if key != "" {
			fresh, err := s.dedup.Add(ctx, uid, key)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
			}
			if !fresh {
				return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate request"})
			}
		}

		s.mu.Lock()
		task, err := s.appendTask(ctx, boardID, draft)
		s.mu.Unlock()
		if err != nil {
			if key != "" {
				_ = s.dedup.Remove(ctx, uid, key)
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}

		s.publish(ctx, channel.TaskCreated{BoardID: boardID, Task: task})
		return c.JSON(http.StatusCreated, task)
	}
}

// appendTask places the new task at the tail of its group. Ranks may carry
// gaps after deletes, so the tail rank is max+1 rather than the group size.
func (s *Server) appendTask(ctx context.Context, boardID string, draft domain.TaskDraft) (domain.Task, error) {
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return domain.Task{}, err
	}
	rank := 0
	for _, t := range tasks {
		if t.Group == draft.Group && t.Order >= rank {
			rank = t.Order + 1
		}
	}
	task := domain.Task{
		ID:          uuid.NewString(),
		BoardID:     boardID,
		Title:       draft.Title,
		Description: draft.Description,
		Group:       draft.Group,
		Order:       rank,
		CreatedAt:   time.Now().UTC(),
	}
	return task, s.store.SaveTasks(ctx, boardID, append(tasks, task))
}

func (s *Server) updateTask() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := userIDFrom(c, s.Auth); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}

		lr := io.LimitReader(c.Request().Body, requestBodyLimit)
		dec := sonic.ConfigStd.NewDecoder(lr)
		var in domain.Task
		if err := dec.Decode(&in); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed task"})
		}
		if err := domain.ValidateTitle(in.Title); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		if !in.Group.Valid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown group"})
		}

		s.mu.Lock()
		updated, found, err := s.replaceTask(ctx, c.Param("id"), in)
		s.mu.Unlock()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		if !found {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
		}

		s.publish(ctx, channel.TaskUpdated{BoardID: updated.BoardID, Task: updated})
		return c.JSON(http.StatusOK, updated)
	}
}

func (s *Server) replaceTask(ctx context.Context, id string, in domain.Task) (domain.Task, bool, error) {
	boards, err := s.store.ListBoards(ctx)
	if err != nil {
		return domain.Task{}, false, err
	}
	for _, b := range boards {
		tasks, err := s.store.ListTasks(ctx, b.ID)
		if err != nil {
			return domain.Task{}, false, err
		}
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			in.ID = id
			in.BoardID = b.ID
			if in.CreatedAt.IsZero() {
				in.CreatedAt = tasks[i].CreatedAt
			}
			tasks[i] = in
			return in, true, s.store.SaveTasks(ctx, b.ID, tasks)
		}
	}
	return domain.Task{}, false, nil
}

func (s *Server) deleteTask() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := userIDFrom(c, s.Auth); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}

		id := c.Param("id")
		s.mu.Lock()
		boardID, found, err := s.removeTask(ctx, id)
		s.mu.Unlock()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
		}
		if !found {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
		}

		s.publish(ctx, channel.TaskDeleted{BoardID: boardID, ID: id})
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Server) removeTask(ctx context.Context, id string) (string, bool, error) {
	boards, err := s.store.ListBoards(ctx)
	if err != nil {
		return "", false, err
	}
	for _, b := range boards {
		tasks, err := s.store.ListTasks(ctx, b.ID)
		if err != nil {
			return "", false, err
		}
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			tasks = append(tasks[:i], tasks[i+1:]...)
			return b.ID, true, s.store.SaveTasks(ctx, b.ID, tasks)
		}
	}
	return "", false, nil
}

func (s *Server) handleWS() echo.HandlerFunc {
	return func(c echo.Context) error {
		boardID := c.QueryParam("boardId")
		if boardID == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "boardId is required"})
		}
		if _, err := userIDFrom(c, s.Auth); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		}
		ctx := c.Request().Context()

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		client := &wsClient{conn: conn}
		s.hub.add(boardID, client)
		defer func() {
			s.hub.remove(boardID, client)
			conn.Close()
		}()

		tasks, err := s.store.ListTasks(ctx, boardID)
		if err != nil {
			s.logger.WithError(err).Error("load tasks for init")
			return nil
		}
		init, err := channel.Encode(channel.Init{BoardID: boardID, Tasks: tasks})
		if err != nil {
			return nil
		}
		if err := client.send(init); err != nil {
			return nil
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			msg, err := channel.Decode(data)
			if err != nil {
				s.logger.WithError(err).Debug("dropping client frame")
				continue
			}
			re, ok := msg.(channel.Reorder)
			if !ok {
				continue
			}
			if re.BoardID != "" && re.BoardID != boardID {
				s.logger.WithField("scope", re.BoardID).Debug("dropping reorder for another board")
				continue
			}
			if err := s.applyReorder(ctx, boardID, re.Tasks); err != nil {
				s.logger.WithError(err).Error("applying reorder")
			}
		}
	}
}

// applyReorder persists the client's full set, compacted and rescoped, and
// rebroadcasts it to every subscriber including the sender.
func (s *Server) applyReorder(ctx context.Context, boardID string, tasks []domain.Task) error {
	next := domain.Renumber(tasks)
	for i := range next {
		next[i].BoardID = boardID
	}
	s.mu.Lock()
	err := s.store.SaveTasks(ctx, boardID, next)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(ctx, channel.TasksReorder{BoardID: boardID, Tasks: next})
	return nil
}

func userIDFrom(c echo.Context, auth *Auth) (string, error) {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if h == "" {
		if tok := c.QueryParam("token"); tok != "" {
			h = "Bearer " + tok
		}
	}
	return auth.UserIDFromAuthHeader(h)
}

type hub struct {
	mu    sync.Mutex
	rooms map[string]map[*wsClient]struct{}
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[*wsClient]struct{})}
}

func (h *hub) add(boardID string, c *wsClient) {
	h.mu.Lock()
	room := h.rooms[boardID]
	if room == nil {
		room = make(map[*wsClient]struct{})
		h.rooms[boardID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(boardID string, c *wsClient) {
	h.mu.Lock()
	delete(h.rooms[boardID], c)
	if len(h.rooms[boardID]) == 0 {
		delete(h.rooms, boardID)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(boardID string, payload []byte) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.rooms[boardID]))
	for c := range h.rooms[boardID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		// Failed writes are left to the read loop's cleanup.
		_ = c.send(payload)
	}
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(broadcastDeadline))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
