package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/store"
)

// FileConfig holds the configuration for the file source.
type FileConfig struct {
	// Paths lists the data files to load, in order. Later files win on key
	// collisions. JSON and YAML are detected by extension.
	Paths []string
	// Watch reloads the dataset whenever one of the files changes.
	Watch bool
}

// FileSource loads flag data from local JSON or YAML files, primarily for
// development and tests. Each file holds a dataset with optional "flags",
// "flagValues" and "segments" sections; flagValues entries are shorthand for
// an on flag with a single variation.
type FileSource struct {
	logger *slog.Logger
	config FileConfig
	dest   store.DataDestination
	status *StatusManager

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileSource creates a file source. Start must be called to load the
// files.
func NewFileSource(cfg FileConfig, dest store.DataDestination, status *StatusManager, log *slog.Logger) *FileSource {
	if dest == nil {
		panic("datasource: data destination cannot be nil")
	}
	if status == nil {
		panic("datasource: status manager cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &FileSource{
		logger: log,
		config: cfg,
		dest:   dest,
		status: status,
		done:   make(chan struct{}),
	}
}

// fileData is the on-disk dataset shape.
type fileData struct {
	Flags      map[string]*model.Flag    `json:"flags"`
	FlagValues map[string]any            `json:"flagValues"`
	Segments   map[string]*model.Segment `json:"segments"`
}

// Start loads all files and, when watching is enabled, begins reloading on
// change. An initial load failure is fatal; reload failures keep the last
// good dataset and record the error.
func (f *FileSource) Start(ctx context.Context) error {
	if err := f.load(); err != nil {
		f.status.UpdateState(StateOff, &ErrorInfo{Kind: ErrorInfoInvalidData, Message: err.Error()})
		return err
	}

	if !f.config.Watch {
		close(f.done)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	f.watcher = watcher
	// Watch directories, not files: editors that replace files on save
	// would otherwise drop the watch after the first change.
	dirs := make(map[string]struct{})
	for _, path := range f.config.Paths {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			f.watcher = nil
			return err
		}
	}

	go f.watch(ctx)
	return nil
}

func (f *FileSource) watch(ctx context.Context) {
	defer close(f.done)
	watched := make(map[string]struct{}, len(f.config.Paths))
	for _, path := range f.config.Paths {
		watched[filepath.Clean(path)] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if _, interesting := watched[filepath.Clean(event.Name)]; !interesting {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.load(); err != nil {
				f.logger.Warn("reload failed, keeping previous data",
					slog.String("file", event.Name),
					logger.Err(err),
				)
				f.status.ReportError(ErrorInfo{Kind: ErrorInfoInvalidData, Message: err.Error()})
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("file watcher error", logger.Err(err))
		}
	}
}

// load parses every file and applies the merged dataset atomically. Parsing
// happens fully before the store is touched.
func (f *FileSource) load() error {
	merged := model.DataSet{
		Flags:    make(map[string]*model.Flag),
		Segments: make(map[string]*model.Segment),
	}

	for _, path := range f.config.Paths {
		data, err := parseFile(path)
		if err != nil {
			return err
		}
		for key, flag := range data.Flags {
			flag.Key = key
			merged.Flags[key] = flag
		}
		for key, value := range data.FlagValues {
			merged.Flags[key] = makeValueFlag(key, value)
		}
		for key, segment := range data.Segments {
			segment.Key = key
			merged.Segments[key] = segment
		}
	}

	f.dest.Init(merged)
	f.logger.Info("loaded flag data from files",
		slog.Int("files", len(f.config.Paths)),
		slog.Int("flags", len(merged.Flags)),
		slog.Int("segments", len(merged.Segments)),
	)
	f.status.UpdateState(StateValid, nil)
	return nil
}

func parseFile(path string) (fileData, error) {
	var data fileData
	raw, err := os.ReadFile(path)
	if err != nil {
		return data, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// The model types carry json tags only, so YAML goes through a
		// generic decode and a JSON round-trip.
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return data, fmt.Errorf("parsing %s: %w", path, err)
		}
		raw, err = json.Marshal(generic)
		if err != nil {
			return data, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("parsing %s: %w", path, err)
	}
	return data, nil
}

// makeValueFlag wraps a bare value as an on flag that always serves it.
func makeValueFlag(key string, value any) *model.Flag {
	zero := 0
	return &model.Flag{
		Key:         key,
		Version:     1,
		On:          true,
		Variations:  []any{value},
		Fallthrough: model.VariationOrRollout{Variation: &zero},
	}
}

// Close stops watching. The loaded data stays in the store.
func (f *FileSource) Close() error {
	if f.watcher != nil {
		err := f.watcher.Close()
		<-f.done
		return err
	}
	return nil
}
