package boardtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/jayanth920/taskfront/domain"
)

const (
	tasksKeyPrefix = "board:tasks:"
	boardKeyPrefix = "board:meta:"
	boardsKey      = "boards"
	dedupKeyPrefix = "idem:"
)

// taskStore keeps board metadata and per-board task sets as JSON blobs
// in redis.
type taskStore struct {
	rc *redis.Client
}

func (s *taskStore) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	raw, err := s.rc.Get(ctx, tasksKeyPrefix+boardID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

func (s *taskStore) SaveTasks(ctx context.Context, boardID string, tasks []domain.Task) error {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	if err := s.rc.Set(ctx, tasksKeyPrefix+boardID, data, 0).Err(); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

func (s *taskStore) GetBoard(ctx context.Context, boardID string) (domain.Board, bool, error) {
	raw, err := s.rc.Get(ctx, boardKeyPrefix+boardID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Board{}, false, nil
	}
	if err != nil {
		return domain.Board{}, false, fmt.Errorf("load board: %w", err)
	}
	var board domain.Board
	if err := sonic.Unmarshal(raw, &board); err != nil {
		return domain.Board{}, false, fmt.Errorf("decode board: %w", err)
	}
	return board, true, nil
}

func (s *taskStore) SaveBoard(ctx context.Context, board domain.Board) error {
	data, err := sonic.Marshal(board)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	_, err = s.rc.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, boardsKey, board.ID)
		pipe.Set(ctx, boardKeyPrefix+board.ID, data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save board: %w", err)
	}
	return nil
}

func (s *taskStore) ListBoards(ctx context.Context) ([]domain.Board, error) {
	ids, err := s.rc.SMembers(ctx, boardsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	sort.Strings(ids)
	boards := make([]domain.Board, 0, len(ids))
	for _, id := range ids {
		board, ok, err := s.GetBoard(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			boards = append(boards, board)
		}
	}
	return boards, nil
}

// deduper records idempotency keys with SetNX so replayed writes are
// rejected until the TTL expires.
type deduper struct {
	rc  *redis.Client
	ttl time.Duration
}

// Add records the key if it does not already exist. It returns true when
// the key was newly added.
func (d *deduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return d.rc.SetNX(ctx, dedupKeyPrefix+userID+":"+key, 1, d.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry after a
// failed write.
func (d *deduper) Remove(ctx context.Context, userID, key string) error {
	return d.rc.Del(ctx, dedupKeyPrefix+userID+":"+key).Err()
}
