package block

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/lfa"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/script"
)

// Schema holds the properties every block script accepts.
const Schema = `
$schema: http://json-schema.org/draft-07/schema#
type: object
properties:
  program:
    type: string
    description: >-
      Program this script is related to. A BLOCK-N program is also used to
      allocate an observation id for the execution.
  reason:
    type: string
    description: Reason for executing this script.
  test_case:
    type: object
    description: Test case information.
    additionalProperties: false
    properties:
      name:
        type: string
        description: Test case related to this script execution.
      execution:
        type: string
        description: Test case execution this script is related to.
      version:
        type: string
        description: Version of the test case.
      initial_step:
        type: integer
        description: Initial step of the test case. Defaults to 1.
      project:
        type: string
        description: Project hosting the test cases. Defaults to LVV.
    required: [name, execution, version]
additionalProperties: false
`

const (
	blockProject   = "BLOCK"
	obsIDSource    = "Block"
	defaultProject = "LVV"
	saveTimeout    = 30 * time.Second
)

// Config is the decoded block part of a script configuration. Scripts
// embed it inline in their own config struct.
type Config struct {
	Program  string    `yaml:"program"`
	Reason   string    `yaml:"reason"`
	TestCase *TestCase `yaml:"test_case"`
}

// TestCase identifies the test case execution a run reports to.
type TestCase struct {
	Name        string `yaml:"name"`
	Execution   string `yaml:"execution"`
	Version     string `yaml:"version"`
	InitialStep *int   `yaml:"initial_step"`
	Project     string `yaml:"project"`
}

// StepResult is one recorded test case step.
type StepResult struct {
	ID            int    `json:"id"`
	ExecutionTime string `json:"executionTime"`
	Comment       string `json:"comment,omitempty"`
	Status        string `json:"status"`
}

// Step statuses.
const (
	StepPassed = "PASSED"
	StepFailed = "FAILED"
)

// ObsIDSource allocates observation ids. *imageserver.Client satisfies it.
type ObsIDSource interface {
	NextObsIDs(ctx context.Context, source string, id, n int) ([]string, error)
}

// Uploader stores files in the Large File Annex. *lfa.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (lfa.Object, error)
}

// LargeFilePublisher announces uploads. *script.Events satisfies it.
type LargeFilePublisher interface {
	LargeFileObjectAvailable(obj script.LargeFileObject) error
}

// Deps are the collaborators of Base. All are optional: without ObsIDs no
// observation id is generated, and without Uploader test case results are
// logged but not saved.
type Deps struct {
	Index  int
	ObsIDs ObsIDSource
	LFA    Uploader
	Events LargeFilePublisher
	Log    *logging.Logger
}

// Base implements the block behaviour. The zero value is not usable; use
// NewBase.
type Base struct {
	typeName string
	deps     Deps
	log      *logging.Logger
	now      func() time.Time

	cfg      Config
	obsID    string
	message  string
	nextStep int
	steps    []StepResult
}

// NewBase creates a Base for a script whose type name (e.g. "MoveRotator")
// prefixes the program checkpoints.
func NewBase(typeName string, deps Deps) *Base {
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Base{typeName: typeName, deps: deps, log: log, now: time.Now}
}

// Configure stores cfg and, when a program is set, builds the checkpoint
// message and requests an observation id. Only a malformed BLOCK id is an
// error; service failures are logged.
func (b *Base) Configure(ctx context.Context, cfg Config) error {
	b.cfg = cfg
	b.obsID = ""
	b.message = ""
	b.steps = nil
	b.nextStep = 1
	if cfg.TestCase != nil && cfg.TestCase.InitialStep != nil {
		b.nextStep = *cfg.TestCase.InitialStep
	}

	if cfg.Program == "" {
		return nil
	}

	obsID, err := b.fetchObsID(ctx)
	if err != nil {
		return err
	}
	b.obsID = obsID

	var sb strings.Builder
	sb.WriteString(b.typeName + " " + cfg.Program + " ")
	sb.WriteString(obsID)
	if cfg.Reason != "" {
		sb.WriteString(" " + cfg.Reason)
	}
	b.message = sb.String()
	return nil
}

// ObsID returns the observation id of this execution, "" if none.
func (b *Base) ObsID() string {
	return b.obsID
}

// CheckpointMessage returns the program checkpoint prefix, "" without a
// program.
func (b *Base) CheckpointMessage() string {
	return b.message
}

// Steps returns the recorded test case steps.
func (b *Base) Steps() []StepResult {
	return append([]StepResult(nil), b.steps...)
}

func (b *Base) fetchObsID(ctx context.Context) (string, error) {
	project, idStr, _ := strings.Cut(b.cfg.Program, "-")
	switch {
	case b.deps.ObsIDs == nil:
		b.log.Warn("not generating obs id: no image server for this site", "program", b.cfg.Program)
		return "", nil
	case project != blockProject:
		b.log.Warn("not generating obs id: ids are only generated for BLOCK programs", "program", b.cfg.Program)
		return "", nil
	}

	id, err := strconv.Atoi(idStr)
	if err != nil {
		return "", script.Expectedf("Invalid BLOCK id. Got %s, expected an integer type id.", idStr)
	}
	if id < 0 {
		id = -id
	}

	ids, err := b.deps.ObsIDs.NextObsIDs(ctx, obsIDSource, id, 1)
	if err != nil || len(ids) == 0 {
		b.log.Error("failed to generate obs id", "program", b.cfg.Program, "error", err)
		return "", nil
	}
	return ids[0], nil
}

// Run wraps body in the program checkpoints and saves the test case
// afterwards. The Done checkpoint and the save also happen when body fails.
func (b *Base) Run(ctx context.Context, cp script.Checkpointer, body func(ctx context.Context) error) (err error) {
	if b.message != "" {
		if err := cp.Checkpoint(ctx, b.message+": Start"); err != nil {
			return err
		}
	}

	defer func() {
		if b.message != "" {
			if cpErr := cp.Checkpoint(context.WithoutCancel(ctx), b.message+": Done"); cpErr != nil && err == nil {
				err = cpErr
			}
		}
		if saveErr := b.SaveTestCase(context.WithoutCancel(ctx)); saveErr != nil {
			b.log.Error("failed to save test case", "error", saveErr)
			if err == nil {
				err = saveErr
			}
		}
	}()

	return body(ctx)
}

// Step runs fn as one test case step. Without a test case it just runs fn.
func (b *Base) Step(comment string, fn func() error) error {
	if b.cfg.TestCase == nil {
		return fn()
	}
	res := StepResult{
		ID:            b.nextStep,
		ExecutionTime: b.now().Format("2006-01-02T15:04:05.000000"),
		Comment:       comment,
	}
	b.nextStep++

	err := fn()
	res.Status = StepPassed
	if err != nil {
		res.Status = StepFailed
	}
	b.steps = append(b.steps, res)
	return err
}

type testCasePayload struct {
	ProjectID   string       `json:"projectId"`
	IssueID     string       `json:"issueId"`
	ExecutionID string       `json:"executionId"`
	VersionID   string       `json:"versionId"`
	StepResults []StepResult `json:"stepResults"`
}

// ErrNoUploader is returned by SaveTestCase when results exist but there is
// nowhere to store them.
var ErrNoUploader = errors.New("block: no large file annex configured")

// SaveTestCase uploads the recorded steps and announces the file. It does
// nothing without a test case, and warns and skips when no step ran.
func (b *Base) SaveTestCase(ctx context.Context) error {
	tc := b.cfg.TestCase
	if tc == nil {
		return nil
	}
	if len(b.steps) == 0 {
		b.log.Warn("no test case step registered, no test case results to store, skipping")
		return nil
	}
	if b.deps.LFA == nil {
		return ErrNoUploader
	}

	b.log.Info("saving test case metadata to LFA", "test_case", tc.Name)

	project := tc.Project
	if project == "" {
		project = defaultProject
	}
	payload, err := json.Marshal(testCasePayload{
		ProjectID:   project,
		IssueID:     tc.Name,
		ExecutionID: tc.Execution,
		VersionID:   tc.Version,
		StepResults: b.steps,
	})
	if err != nil {
		return fmt.Errorf("marshalling test case: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	key := lfa.Key(b.deps.Index, tc.Name, b.now(), b.obsID, ".json")
	obj, err := b.deps.LFA.Upload(ctx, key, payload, "application/json")
	if err != nil {
		return err
	}

	if b.deps.Events == nil {
		return nil
	}
	return b.deps.Events.LargeFileObjectAvailable(script.LargeFileObject{
		ID:        b.obsID,
		URL:       obj.URL,
		Generator: tc.Name,
		MimeType:  "JSON",
		ByteSize:  obj.ByteSize,
		CheckSum:  obj.MD5,
		Version:   1,
	})
}
