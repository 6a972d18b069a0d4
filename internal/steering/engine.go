package steering

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relaycore/relaycore/internal/config"
	"github.com/relaycore/relaycore/internal/logger"
)

// Engine holds the current compiled rule set behind an atomic pointer so
// Evaluate never blocks on a reload (§4.3 "State": "an engine swaps in a
// new CompiledRuleSet atomically; in-flight evaluations finish against
// whichever snapshot they started with").
type Engine struct {
	current atomic.Pointer[CompiledRuleSet]
	cfg     config.SteeringConfig
	watcher *fsnotify.Watcher
}

// New loads the rule set at cfg.RulesPath and, if cfg.WatchFile is set,
// starts watching it for changes.
func New(cfg config.SteeringConfig) (*Engine, error) {
	e := &Engine{cfg: cfg}
	if err := e.reloadFromDisk(); err != nil {
		return nil, err
	}
	if cfg.WatchFile {
		if err := e.startWatch(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) reloadFromDisk() error {
	raw, err := os.ReadFile(e.cfg.RulesPath)
	if err != nil {
		return err
	}
	var file RuleSetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	compiled, err := Compile(file)
	if err != nil {
		return err
	}
	e.current.Store(compiled)
	return nil
}

func (e *Engine) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(e.cfg.RulesPath); err != nil {
		w.Close()
		return err
	}
	e.watcher = w

	go func() {
		debounce := e.cfg.ReloadWait
		if debounce <= 0 {
			debounce = 500 * time.Millisecond
		}
		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := e.reloadFromDisk(); err != nil {
						logger.Error("steering: rule set reload failed, keeping previous version", zap.Error(err))
					} else {
						logger.Info("steering: rule set reloaded", zap.String("version", e.Version()))
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("steering: watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

// Version returns the loaded rule set's version string, for logging and
// the Result's provenance.
func (e *Engine) Version() string {
	rs := e.current.Load()
	if rs == nil {
		return ""
	}
	return rs.Version
}

// Evaluate runs ctx through the current rule set (§4.3 "Operations:
// Evaluate"). Rules are visited in ascending priority order, skipping
// disabled ones; a rule whose conditions match has its actions applied to
// a copy of the context. A reject action halts evaluation immediately,
// regardless of that rule's continue flag — rejection is terminal. A
// matched rule with continue=false stops further rule evaluation after
// its own actions apply. If no rule matches, the rule set's default
// actions apply exactly once.
func (e *Engine) Evaluate(reqCtx map[string]any) (*Result, error) {
	rs := e.current.Load()
	result := &Result{Context: deepCopyContext(reqCtx)}

	if rs == nil {
		return result, nil
	}

	matched := false
	for _, rule := range rs.Rules {
		if !rule.Enabled {
			continue
		}
		if !evaluateRule(rule, result.Context) {
			continue
		}

		matched = true
		result.MatchedRules = append(result.MatchedRules, rule.ID)

		for _, action := range rule.Actions {
			if err := applyAction(action, rule.ID, result); err != nil {
				return nil, err
			}
			if result.Rejected {
				return result, nil
			}
		}

		if !rule.Continue {
			return result, nil
		}
	}

	if !matched {
		for _, action := range rs.DefaultActions {
			if err := applyAction(action, "", result); err != nil {
				return nil, err
			}
			if result.Rejected {
				return result, nil
			}
		}
	}

	return result, nil
}
