// Package redisstore persists todos in Redis.
//
// Records are stored as JSON strings. Membership sets index them:
//
//	todo:{id}            todo record
//	subtask:{id}         subtask record
//	todos                ids of all todos
//	todos:date:{date}    ids of todos on one day
//	todo:{id}:subtasks   ids of the todo's subtasks
//
// Writes that touch several keys go through MULTI/EXEC. Operations whose
// outcome depends on a prior read run under WATCH.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"todocrud/internal/model"
	"todocrud/internal/store"
)

const (
	todoSeqKey    = "todos:seq"
	subtaskSeqKey = "subtasks:seq"
	allTodosKey   = "todos"
)

func todoKey(id int64) string         { return fmt.Sprintf("todo:%d", id) }
func subtaskKey(id int64) string      { return fmt.Sprintf("subtask:%d", id) }
func subtasksKey(todoID int64) string { return fmt.Sprintf("todo:%d:subtasks", todoID) }
func dateKey(d model.Date) string     { return "todos:date:" + d.String() }

// Store implements store.Store on a Redis client.
type Store struct {
	client *redis.Client
	now    func() time.Time
	// beforeWrite, when set, runs between the read and the write of a
	// toggle or subtask insert.
	beforeWrite func()
}

// maxInsertAttempts bounds the optimistic retries of CreateSubtask.
const maxInsertAttempts = 5

var _ store.Store = (*Store)(nil)

// New creates a Store that owns client.
func New(client *redis.Client) *Store {
	return &Store{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ListTodos returns todos, optionally of one day, with ordered subtasks.
func (s *Store) ListTodos(ctx context.Context, opts store.ListOptions) ([]model.Todo, error) {
	setKey := allTodosKey
	if opts.Date != nil {
		setKey = dateKey(*opts.Date)
	}

	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	todos, err := getRecords[model.Todo](ctx, s.client, ids, func(id string) string { return "todo:" + id })
	if err != nil {
		return nil, err
	}
	for i := range todos {
		subtasks, err := s.ListSubtasks(ctx, todos[i].ID)
		if err != nil {
			return nil, err
		}
		todos[i].Subtasks = subtasks
	}
	store.SortTodos(todos)
	return todos, nil
}

// GetTodo returns one todo with ordered subtasks.
func (s *Store) GetTodo(ctx context.Context, id int64) (*model.Todo, error) {
	todo, err := s.getTodo(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return s.withSubtasks(ctx, todo)
}

// getter is satisfied by *redis.Client and by *redis.Tx inside WATCH.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getTodo(ctx context.Context, c getter, id int64) (*model.Todo, error) {
	var todo model.Todo
	if err := getRecord(ctx, c, todoKey(id), &todo); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.TodoNotFound(id)
		}
		return nil, err
	}
	return &todo, nil
}

func (s *Store) getSubtask(ctx context.Context, c getter, id int64) (*model.Subtask, error) {
	var subtask model.Subtask
	if err := getRecord(ctx, c, subtaskKey(id), &subtask); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.SubtaskNotFound(id)
		}
		return nil, err
	}
	return &subtask, nil
}

func (s *Store) withSubtasks(ctx context.Context, todo *model.Todo) (*model.Todo, error) {
	subtasks, err := s.ListSubtasks(ctx, todo.ID)
	if err != nil {
		return nil, err
	}
	todo.Subtasks = subtasks
	return todo, nil
}

// CreateTodo inserts a todo under the next id.
func (s *Store) CreateTodo(ctx context.Context, req model.CreateTodoRequest) (*model.Todo, error) {
	id, err := s.client.Incr(ctx, todoSeqKey).Result()
	if err != nil {
		return nil, err
	}
	now := s.now()
	todo := &model.Todo{
		ID:           id,
		Text:         req.Text,
		Date:         req.Date,
		Completed:    req.Completed,
		DisplayOrder: req.DisplayOrder,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data, err := marshalTodo(todo)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, todoKey(id), data, 0)
		pipe.SAdd(ctx, allTodosKey, id)
		pipe.SAdd(ctx, dateKey(todo.Date), id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	todo.Subtasks = []model.Subtask{}
	return todo, nil
}

// UpdateTodo writes only the supplied fields.
func (s *Store) UpdateTodo(ctx context.Context, id int64, req model.UpdateTodoRequest) (*model.Todo, error) {
	todo, err := s.modifyTodo(ctx, id, req.Apply)
	if err != nil {
		return nil, err
	}
	return s.withSubtasks(ctx, todo)
}

// MoveTodo sets date and display_order together.
func (s *Store) MoveTodo(ctx context.Context, id int64, req model.MoveTodoRequest) (*model.Todo, error) {
	todo, err := s.modifyTodo(ctx, id, func(t *model.Todo) {
		t.Date = req.Date
		t.DisplayOrder = req.DisplayOrder
	})
	if err != nil {
		return nil, err
	}
	return s.withSubtasks(ctx, todo)
}

// modifyTodo applies fn to the stored todo under WATCH and keeps the date
// index in step.
func (s *Store) modifyTodo(ctx context.Context, id int64, fn func(*model.Todo)) (*model.Todo, error) {
	key := todoKey(id)
	var updated *model.Todo

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		todo, err := s.getTodo(ctx, tx, id)
		if err != nil {
			return err
		}
		oldDate := todo.Date
		fn(todo)
		todo.UpdatedAt = s.now()

		data, err := marshalTodo(todo)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if oldDate != todo.Date {
				pipe.SRem(ctx, dateKey(oldDate), id)
				pipe.SAdd(ctx, dateKey(todo.Date), id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = todo
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTodo removes the todo together with all of its subtasks.
func (s *Store) DeleteTodo(ctx context.Context, id int64) error {
	key, childrenKey := todoKey(id), subtasksKey(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		todo, err := s.getTodo(ctx, tx, id)
		if err != nil {
			return err
		}
		childIDs, err := tx.SMembers(ctx, childrenKey).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, childrenKey)
			for _, childID := range childIDs {
				pipe.Del(ctx, "subtask:"+childID)
			}
			pipe.SRem(ctx, allTodosKey, id)
			pipe.SRem(ctx, dateKey(todo.Date), id)
			return nil
		})
		return err
	}, key, childrenKey)
}

// ToggleTodo flips completed with a read followed by a write.
func (s *Store) ToggleTodo(ctx context.Context, id int64) (*model.Todo, error) {
	todo, err := s.getTodo(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	todo.Completed = !todo.Completed
	todo.UpdatedAt = s.now()

	data, err := marshalTodo(todo)
	if err != nil {
		return nil, err
	}
	s.runBeforeWrite()
	if err := s.setExisting(ctx, todoKey(id), data, store.TodoNotFound(id)); err != nil {
		return nil, err
	}
	return s.withSubtasks(ctx, todo)
}

// ReorderTodos applies every position in one MULTI/EXEC. All keys are
// watched and read first, so a missing id aborts before anything is written.
func (s *Store) ReorderTodos(ctx context.Context, positions []model.Position) error {
	keys := make([]string, len(positions))
	for i, p := range positions {
		keys[i] = todoKey(p.ID)
	}

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		records := make(map[int64]*model.Todo, len(positions))
		for _, p := range positions {
			if _, ok := records[p.ID]; ok {
				continue
			}
			todo, err := s.getTodo(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			records[p.ID] = todo
		}

		now := s.now()
		for _, p := range positions {
			records[p.ID].DisplayOrder = p.DisplayOrder
			records[p.ID].UpdatedAt = now
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, todo := range records {
				data, err := marshalTodo(todo)
				if err != nil {
					return err
				}
				pipe.Set(ctx, todoKey(id), data, 0)
			}
			return nil
		})
		return err
	}, keys...)
}

// ListSubtasks returns the ordered subtasks of a todo. An unknown todo
// yields an empty list.
func (s *Store) ListSubtasks(ctx context.Context, todoID int64) ([]model.Subtask, error) {
	ids, err := s.client.SMembers(ctx, subtasksKey(todoID)).Result()
	if err != nil {
		return nil, err
	}
	subtasks, err := getRecords[model.Subtask](ctx, s.client, ids, func(id string) string { return "subtask:" + id })
	if err != nil {
		return nil, err
	}
	store.SortSubtasks(subtasks)
	return subtasks, nil
}

// CreateSubtask checks that the todo exists, then inserts the subtask. The
// parent key is watched; when it changes before EXEC the insert is retried,
// so a parent deleted in between is reported as not found.
func (s *Store) CreateSubtask(ctx context.Context, todoID int64, req model.CreateSubtaskRequest) (*model.Subtask, error) {
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		created, err := s.insertSubtask(ctx, todoID, req)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return created, err
	}
	return nil, fmt.Errorf("insert subtask under todo %d: %w", todoID, redis.TxFailedErr)
}

func (s *Store) insertSubtask(ctx context.Context, todoID int64, req model.CreateSubtaskRequest) (*model.Subtask, error) {
	parentKey := todoKey(todoID)
	var created *model.Subtask

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, parentKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.TodoNotFound(todoID)
		}

		id, err := s.client.Incr(ctx, subtaskSeqKey).Result()
		if err != nil {
			return err
		}
		now := s.now()
		subtask := &model.Subtask{
			ID:           id,
			TodoID:       todoID,
			Text:         req.Text,
			Completed:    req.Completed,
			DisplayOrder: req.DisplayOrder,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		data, err := json.Marshal(subtask)
		if err != nil {
			return err
		}

		s.runBeforeWrite()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, subtaskKey(id), data, 0)
			pipe.SAdd(ctx, subtasksKey(todoID), id)
			return nil
		})
		if err != nil {
			return err
		}
		created = subtask
		return nil
	}, parentKey)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateSubtask writes only the supplied fields.
func (s *Store) UpdateSubtask(ctx context.Context, id int64, req model.UpdateSubtaskRequest) (*model.Subtask, error) {
	key := subtaskKey(id)
	var updated *model.Subtask

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		subtask, err := s.getSubtask(ctx, tx, id)
		if err != nil {
			return err
		}
		req.Apply(subtask)
		subtask.UpdatedAt = s.now()

		data, err := json.Marshal(subtask)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = subtask
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSubtask removes one subtask.
func (s *Store) DeleteSubtask(ctx context.Context, id int64) error {
	subtask, err := s.getSubtask(ctx, s.client, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, subtaskKey(id))
		pipe.SRem(ctx, subtasksKey(subtask.TodoID), id)
		return nil
	})
	return err
}

// ToggleSubtask flips completed with a read followed by a write.
func (s *Store) ToggleSubtask(ctx context.Context, id int64) (*model.Subtask, error) {
	subtask, err := s.getSubtask(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	subtask.Completed = !subtask.Completed
	subtask.UpdatedAt = s.now()

	data, err := json.Marshal(subtask)
	if err != nil {
		return nil, err
	}
	s.runBeforeWrite()
	if err := s.setExisting(ctx, subtaskKey(id), data, store.SubtaskNotFound(id)); err != nil {
		return nil, err
	}
	return subtask, nil
}

// setExisting overwrites key only if it still exists, so a record deleted
// after it was read is not recreated.
func (s *Store) setExisting(ctx context.Context, key string, data []byte, notFound error) error {
	ok, err := s.client.SetXX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return notFound
	}
	return nil
}

func (s *Store) runBeforeWrite() {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
}

// marshalTodo encodes the todo record without its subtasks, which live in
// their own keys.
func marshalTodo(t *model.Todo) ([]byte, error) {
	record := *t
	record.Subtasks = nil
	return json.Marshal(record)
}

func getRecord(ctx context.Context, c getter, key string, dst any) error {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// getRecords fetches the records for ids in a single pipeline. Ids whose
// key has vanished are skipped.
func getRecords[T any](ctx context.Context, c *redis.Client, ids []string, keyOf func(string) string) ([]T, error) {
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := c.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, keyOf(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}
