// File: internal/fields/file.go
package fields

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/internal/browser/dom"
	"github.com/xkilldash9x/autoapply/internal/normalize"
	"github.com/xkilldash9x/autoapply/internal/question"
)

// ResourceFetcher turns a stored resource reference into a local file path
// the browser can upload.
type ResourceFetcher interface {
	Fetch(ctx context.Context, ref string) (string, error)
}

// LocalFetcher resolves references as paths on this machine.
type LocalFetcher struct{}

func (LocalFetcher) Fetch(_ context.Context, ref string) (string, error) {
	path, err := homedir.Expand(ref)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("resource %q: %w", ref, err)
	}
	return abs, nil
}

var errUploadPending = errors.New("upload pending")

var isFileInput = dom.InputTypeIs("file")

// FileHandler uploads files and waits for the page to acknowledge them.
type FileHandler struct {
	Fetcher ResourceFetcher
	logger  *zap.Logger
}

func (h *FileHandler) Normalize(value any, _ int) (any, error) {
	return normalize.Choices(value)
}

func (h *FileHandler) Execute(ctx context.Context, page dom.Page, locators []string, value any, opts Options) question.ExecutionResult {
	refs, ok := value.([]string)
	if !ok || len(refs) == 0 {
		return question.Fail(question.ReasonNormalizeFailed, "file value is not a list of paths")
	}
	if !opts.AllowMultiple {
		refs = refs[:1]
	}
	fetcher := h.Fetcher
	if fetcher == nil {
		fetcher = LocalFetcher{}
	}
	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		p, err := fetcher.Fetch(ctx, ref)
		if err != nil {
			return question.Fail(question.ReasonNormalizeFailed, err.Error())
		}
		paths = append(paths, p)
	}

	inputs, _, fail := resolveLocators(ctx, page, locators, opts.Budget, isFileInput)
	if fail != nil {
		return *fail
	}
	input := inputs[0]
	if err := page.SetFiles(ctx, input.XPath, paths); err != nil {
		return opFailure("set files", err)
	}

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	check := func() error {
		snap, err := page.Snapshot(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		return uploadState(snap, input.XPath, names, opts)
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultOptions().PollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	tries := uint64(timeout / poll)
	if tries == 0 {
		tries = 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(poll), tries), ctx)
	start := time.Now()
	if err := backoff.Retry(check, bo); err != nil {
		if errors.Is(err, errUploadPending) {
			return question.Fail(question.ReasonStateNotObserved, fmt.Sprintf("upload not acknowledged after %s", time.Since(start).Round(time.Millisecond)))
		}
		return opFailure("upload", err)
	}
	orNop(h.logger).Debug("Upload acknowledged.", zap.Strings("files", names))
	return question.OK()
}

// uploadState reports nil once no progress indicator is visible and the
// uploaded file name is shown, or recorded on the input when the page has no
// file name display.
func uploadState(snap *dom.Snapshot, inputXPath string, names []string, opts Options) error {
	if opts.ProgressSelector != "" {
		for _, el := range snap.FindAll(opts.ProgressSelector) {
			if dom.Visible(el) {
				return errUploadPending
			}
		}
	}
	if opts.FilenameSelector != "" {
		shown := snap.FindAll(opts.FilenameSelector)
		for _, name := range names {
			if !anyMentions(shown, name) {
				return errUploadPending
			}
		}
		return nil
	}
	input, ok := snap.Find(inputXPath)
	if !ok {
		// Some widgets replace the input with a file card once uploaded.
		return nil
	}
	recorded := input.Attr("value") + "," + input.Attr("data-files")
	for _, name := range names {
		if !strings.Contains(recorded, name) {
			return errUploadPending
		}
	}
	return nil
}

func anyMentions(els []dom.Element, name string) bool {
	lower := strings.ToLower(name)
	stem := strings.TrimSuffix(lower, strings.ToLower(filepath.Ext(name)))
	for _, el := range els {
		text := strings.ToLower(el.Text() + " " + el.Attr("title"))
		if strings.Contains(text, lower) || (stem != "" && strings.Contains(text, stem)) {
			return true
		}
	}
	return false
}

func (h *FileHandler) Inspect(context.Context, dom.Page, []string, Options) ([]string, error) {
	return nil, nil
}
