// Package sqlstore persists todos in a relational database through GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"todocrud/internal/model"
	"todocrud/internal/store"
)

// Drivers understood by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	Driver string
	DSN    string
	// Logger receives GORM's query and error output. Nil discards it.
	Logger *log.Logger
	// LogQueries logs every statement instead of only failures.
	LogQueries bool
}

// Store implements store.Store on top of a *gorm.DB.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and creates the todos and subtasks tables
// if they are missing.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dialector, err := dialectorFor(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(opts.Logger, opts.LogQueries),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	s := &Store{db: db}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&model.Todo{}, &model.Subtask{}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite, "":
		return sqlite.Open(sqliteDSN(dsn)), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported sql driver %q", driver)
}

// sqliteDSN turns on foreign key enforcement, which SQLite leaves off per
// connection unless asked.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "todos.db"
	}
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func newGormLogger(logger *log.Logger, verbose bool) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	level, forced := gormlogger.Warn, log.WarnLevel
	if verbose {
		level, forced = gormlogger.Info, log.DebugLevel
	}
	w := logger.StandardLog(log.StandardLogOptions{ForceLevel: forced})
	return gormlogger.New(w, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// Ping checks the underlying connection pool.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func orderedSubtasks(db *gorm.DB) *gorm.DB {
	return db.Order("display_order ASC").Order("id ASC")
}

// ListTodos returns todos with their ordered subtasks.
func (s *Store) ListTodos(ctx context.Context, opts store.ListOptions) ([]model.Todo, error) {
	q := s.db.WithContext(ctx).Preload("Subtasks", orderedSubtasks)
	if opts.Date != nil {
		q = q.Where("date = ?", *opts.Date)
	}

	var todos []model.Todo
	err := q.Order("date ASC").Order("display_order ASC").Order("id ASC").Find(&todos).Error
	if err != nil {
		return nil, translate(err)
	}
	if todos == nil {
		todos = []model.Todo{}
	}
	for i := range todos {
		ensureSubtasks(&todos[i])
	}
	return todos, nil
}

// GetTodo returns one todo with its ordered subtasks.
func (s *Store) GetTodo(ctx context.Context, id int64) (*model.Todo, error) {
	return s.loadTodo(s.db.WithContext(ctx), id, true)
}

func (s *Store) loadTodo(db *gorm.DB, id int64, sorted bool) (*model.Todo, error) {
	q := db.Preload("Subtasks")
	if sorted {
		q = db.Preload("Subtasks", orderedSubtasks)
	}

	var todo model.Todo
	if err := q.First(&todo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.TodoNotFound(id)
		}
		return nil, translate(err)
	}
	ensureSubtasks(&todo)
	return &todo, nil
}

// CreateTodo inserts a todo. The result has no subtasks.
func (s *Store) CreateTodo(ctx context.Context, req model.CreateTodoRequest) (*model.Todo, error) {
	todo := model.Todo{
		Text:         req.Text,
		Date:         req.Date,
		Completed:    req.Completed,
		DisplayOrder: req.DisplayOrder,
	}
	if err := s.db.WithContext(ctx).Create(&todo).Error; err != nil {
		return nil, translate(err)
	}
	todo.Subtasks = []model.Subtask{}
	return &todo, nil
}

// UpdateTodo writes only the supplied fields.
func (s *Store) UpdateTodo(ctx context.Context, id int64, req model.UpdateTodoRequest) (*model.Todo, error) {
	db := s.db.WithContext(ctx)
	if err := updateColumns(db, &model.Todo{ID: id}, req.Columns(), store.TodoNotFound(id)); err != nil {
		return nil, err
	}
	return s.loadTodo(db, id, true)
}

// DeleteTodo removes the todo; the foreign key cascade removes its subtasks.
func (s *Store) DeleteTodo(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Todo{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.TodoNotFound(id)
	}
	return nil
}

// ToggleTodo flips completed with a read followed by a write.
func (s *Store) ToggleTodo(ctx context.Context, id int64) (*model.Todo, error) {
	db := s.db.WithContext(ctx)

	var current model.Todo
	if err := db.Select("id", "completed").First(&current, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.TodoNotFound(id)
		}
		return nil, translate(err)
	}

	cols := map[string]any{"completed": !current.Completed}
	if err := updateColumns(db, &model.Todo{ID: id}, cols, store.TodoNotFound(id)); err != nil {
		return nil, err
	}
	return s.loadTodo(db, id, false)
}

// ReorderTodos applies every position in one transaction.
func (s *Store) ReorderTodos(ctx context.Context, positions []model.Position) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range positions {
			res := tx.Model(&model.Todo{}).Where("id = ?", p.ID).Update("display_order", p.DisplayOrder)
			if res.Error != nil {
				return translate(res.Error)
			}
			if res.RowsAffected == 0 {
				return store.TodoNotFound(p.ID)
			}
		}
		return nil
	})
}

// MoveTodo sets date and display_order together.
func (s *Store) MoveTodo(ctx context.Context, id int64, req model.MoveTodoRequest) (*model.Todo, error) {
	db := s.db.WithContext(ctx)
	cols := map[string]any{"date": req.Date, "display_order": req.DisplayOrder}
	if err := updateColumns(db, &model.Todo{ID: id}, cols, store.TodoNotFound(id)); err != nil {
		return nil, err
	}
	return s.loadTodo(db, id, false)
}

// ListSubtasks returns the ordered subtasks of a todo. An unknown todo
// yields an empty list.
func (s *Store) ListSubtasks(ctx context.Context, todoID int64) ([]model.Subtask, error) {
	var subtasks []model.Subtask
	err := orderedSubtasks(s.db.WithContext(ctx).Where("todo_id = ?", todoID)).Find(&subtasks).Error
	if err != nil {
		return nil, translate(err)
	}
	if subtasks == nil {
		subtasks = []model.Subtask{}
	}
	return subtasks, nil
}

// CreateSubtask checks that the todo exists, then inserts the subtask.
func (s *Store) CreateSubtask(ctx context.Context, todoID int64, req model.CreateSubtaskRequest) (*model.Subtask, error) {
	db := s.db.WithContext(ctx)

	var parent model.Todo
	if err := db.Select("id").First(&parent, todoID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.TodoNotFound(todoID)
		}
		return nil, translate(err)
	}

	subtask := model.Subtask{
		TodoID:       todoID,
		Text:         req.Text,
		Completed:    req.Completed,
		DisplayOrder: req.DisplayOrder,
	}
	if err := db.Create(&subtask).Error; err != nil {
		return nil, translate(err)
	}
	return &subtask, nil
}

// UpdateSubtask writes only the supplied fields.
func (s *Store) UpdateSubtask(ctx context.Context, id int64, req model.UpdateSubtaskRequest) (*model.Subtask, error) {
	db := s.db.WithContext(ctx)
	if err := updateColumns(db, &model.Subtask{ID: id}, req.Columns(), store.SubtaskNotFound(id)); err != nil {
		return nil, err
	}
	return s.loadSubtask(db, id)
}

// DeleteSubtask removes one subtask.
func (s *Store) DeleteSubtask(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Subtask{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return store.SubtaskNotFound(id)
	}
	return nil
}

// ToggleSubtask flips completed with a read followed by a write.
func (s *Store) ToggleSubtask(ctx context.Context, id int64) (*model.Subtask, error) {
	db := s.db.WithContext(ctx)

	current, err := s.loadSubtask(db, id)
	if err != nil {
		return nil, err
	}
	cols := map[string]any{"completed": !current.Completed}
	if err := updateColumns(db, &model.Subtask{ID: id}, cols, store.SubtaskNotFound(id)); err != nil {
		return nil, err
	}
	return s.loadSubtask(db, id)
}

func (s *Store) loadSubtask(db *gorm.DB, id int64) (*model.Subtask, error) {
	var subtask model.Subtask
	if err := db.First(&subtask, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.SubtaskNotFound(id)
		}
		return nil, translate(err)
	}
	return &subtask, nil
}

// updateColumns updates the row identified by the primary key of dest and
// returns notFound when no row matched.
func updateColumns(db *gorm.DB, dest any, cols map[string]any, notFound error) error {
	res := db.Model(dest).Updates(cols)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound
	}
	return nil
}

func ensureSubtasks(t *model.Todo) {
	if t.Subtasks == nil {
		t.Subtasks = []model.Subtask{}
	}
}

// translate maps GORM's translated driver errors onto the store taxonomy.
func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", store.ErrForeignKey, err)
	}
	return err
}
