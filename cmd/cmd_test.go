package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/orchestrator"
	"github.com/xkilldash9x/consentscope/internal/server"
	"github.com/xkilldash9x/consentscope/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (f *fakeAnalyzer) result(mode schemas.AnalysisMode, target string) (*schemas.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(mode)+" "+target)
	if err := f.failFor[target]; err != nil {
		return nil, err
	}
	return &schemas.AnalysisResult{
		ID:        fmt.Sprintf("run-%d", len(f.calls)),
		URL:       target,
		Mode:      mode,
		Timestamp: time.Now().UTC(),
		Score:     schemas.ScoreBreakdown{Total: 55},
	}, nil
}

func (f *fakeAnalyzer) Analyze(_ context.Context, target string, _ orchestrator.StepListener) (*schemas.AnalysisResult, error) {
	return f.result(schemas.ModeFull, target)
}

func (f *fakeAnalyzer) AnalyzeQuick(_ context.Context, target string, _ orchestrator.StepListener) (*schemas.AnalysisResult, error) {
	return f.result(schemas.ModeQuick, target)
}

// keepOpen lets several commands share one in-memory database.
type keepOpen struct{ store.Repository }

func (keepOpen) Close() error { return nil }

type fakeSummarizer struct{ text string }

func (f fakeSummarizer) Summarize(_ context.Context, res *schemas.AnalysisResult) (string, error) {
	return f.text + " " + res.ID, nil
}

type fakeFactory struct {
	analyzer    *fakeAnalyzer
	repo        store.Repository
	storeErr    error
	seenDriver  string
	cleanedUp   bool
	recorderSet bool
}

func (f *fakeFactory) NewAnalyzer(_ context.Context, _ config.Interface, _ *zap.Logger, rec orchestrator.Recorder) (server.Analyzer, func(), error) {
	f.recorderSet = rec != nil
	return f.analyzer, func() { f.cleanedUp = true }, nil
}

func (f *fakeFactory) NewStore(_ context.Context, cfg config.Interface, _ *zap.Logger) (store.Repository, error) {
	f.seenDriver = cfg.Database().Driver
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return keepOpen{f.repo}, nil
}

func (f *fakeFactory) NewSummarizer(context.Context, config.Interface, *zap.Logger) (summarizer, error) {
	return fakeSummarizer{text: "Zusammenfassung für"}, nil
}

func newFakeFactory(t *testing.T) *fakeFactory {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), store.MemoryPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return &fakeFactory{analyzer: &fakeAnalyzer{}, repo: repo}
}

func execute(t *testing.T, f componentFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(f)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, newFakeFactory(t), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "consentscope "+Version))

	out, err = execute(t, newFakeFactory(t), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "consentscope version "+Version)
}

func TestAnalyzeRequiresURL(t *testing.T) {
	_, err := execute(t, newFakeFactory(t), "analyze")
	assert.Error(t, err)
}

func TestAnalyzeQuickWritesJSON(t *testing.T) {
	f := newFakeFactory(t)
	out, err := execute(t, f, "analyze", "--quick", "-f", "json", "https://example.de")
	require.NoError(t, err)

	var res schemas.AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, schemas.ModeQuick, res.Mode)
	assert.Equal(t, []string{"quick https://example.de"}, f.analyzer.calls)
	assert.True(t, f.cleanedUp)
	assert.False(t, f.recorderSet)
	assert.Empty(t, f.seenDriver, "store must not be opened without --save")
}

func TestAnalyzeSaveThenReport(t *testing.T) {
	f := newFakeFactory(t)
	_, err := execute(t, f, "analyze", "--save", "-f", "json", "https://example.de")
	require.NoError(t, err)

	entries, err := f.repo.ListByURL(context.Background(), "https://example.de", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out, err := execute(t, f, "report", "-f", "yaml", entries[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "id: "+entries[0].ID)

	_, err = execute(t, f, "report", "missing-id")
	assert.ErrorContains(t, err, "not found")
}

func TestAnalyzeContinuesAfterFailure(t *testing.T) {
	f := newFakeFactory(t)
	f.analyzer.failFor = map[string]error{"https://broken.example": errors.New("navigation timeout")}

	out, err := execute(t, f, "analyze", "-f", "json", "https://broken.example", "https://example.de")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 analyses failed")
	assert.Len(t, f.analyzer.calls, 2)
	assert.Contains(t, out, `"url": "https://example.de"`)
}

func TestAnalyzeWritesReportFile(t *testing.T) {
	f := newFakeFactory(t)
	path := filepath.Join(t.TempDir(), "report.md")
	_, err := execute(t, f, "analyze", "-o", path, "https://example.de")
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "https://example.de")
}

func TestPersistenceCommandsNeedStore(t *testing.T) {
	f := newFakeFactory(t)
	f.storeErr = store.ErrDisabled
	for _, args := range [][]string{
		{"report", "x"},
		{"history", "https://example.de"},
		{"summarize", "x"},
		{"analyze", "--save", "https://example.de"},
	} {
		_, err := execute(t, f, args...)
		assert.ErrorContains(t, err, "needs persistence", "args: %v", args)
	}
}

func TestHistoryComparesLatestTwo(t *testing.T) {
	f := newFakeFactory(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	older := &schemas.AnalysisResult{
		ID: "old", URL: "https://example.de", Mode: schemas.ModeFull, Timestamp: base,
		Score: schemas.ScoreBreakdown{Total: 40},
		Issues: []schemas.Issue{
			{Severity: schemas.SeverityError, Category: "cookies", Title: "Tracking vor Einwilligung"},
		},
	}
	newer := &schemas.AnalysisResult{
		ID: "new", URL: "https://example.de", Mode: schemas.ModeFull, Timestamp: base.Add(24 * time.Hour),
		Score: schemas.ScoreBreakdown{Total: 65},
		Issues: []schemas.Issue{
			{Severity: schemas.SeverityWarning, Category: "banner", Title: "Ablehnen schwer erreichbar"},
		},
	}
	require.NoError(t, f.repo.Save(ctx, older))
	require.NoError(t, f.repo.Save(ctx, newer))

	out, err := execute(t, f, "history", "example.de")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "new"), strings.Index(out, "old"), "newest entry first")
	assert.Contains(t, out, "Change since old: +25 points")
	assert.Contains(t, out, "  + Ablehnen schwer erreichbar")
	assert.Contains(t, out, "  - Tracking vor Einwilligung")
}

func TestHistoryEmpty(t *testing.T) {
	out, err := execute(t, newFakeFactory(t), "history", "https://nothing.example")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored analyses for https://nothing.example")
}

func TestSummarize(t *testing.T) {
	f := newFakeFactory(t)
	require.NoError(t, f.repo.Save(context.Background(), &schemas.AnalysisResult{
		ID: "s1", URL: "https://example.de", Mode: schemas.ModeFull, Timestamp: time.Now(),
	}))
	out, err := execute(t, f, "summarize", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Zusammenfassung für s1\n", out)
}

func TestConfigFileAndFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: postgres\n  url: postgres://localhost/db\n"), 0o600))

	f := newFakeFactory(t)
	_, err := execute(t, f, "--config", cfgPath, "history", "https://example.de")
	require.NoError(t, err)
	assert.Equal(t, "postgres", f.seenDriver)

	_, err = execute(t, f, "--config", cfgPath, "--db-driver", "sqlite", "history", "https://example.de")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", f.seenDriver)
}
