package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/jonesrussell/goregistry/internal/logger"
)

// DefaultRequiredFiles maps extractor names to the dataset-relative files
// they need. An extractor absent from the map has no file requirement.
var DefaultRequiredFiles = map[string][]string{
	"metalad_studyminimeta": {".studyminimeta.yaml"},
	"datacite_gin":          {"datacite.yml"},
	"bids_dataset":          {"dataset_description.json"},
}

// ExecExtractor runs metadata extractors as external plugin executables.
// The plugin is invoked as `<command> <extractor-name> <dataset-path>` and
// writes a JSON array of result entries to stdout.
type ExecExtractor struct {
	command       string
	requiredFiles map[string][]string
	logger        logger.Interface
}

// NewExecExtractor creates an extractor runner invoking command. A nil
// requiredFiles falls back to DefaultRequiredFiles.
func NewExecExtractor(command string, requiredFiles map[string][]string, log logger.Interface) *ExecExtractor {
	if requiredFiles == nil {
		requiredFiles = DefaultRequiredFiles
	}
	return &ExecExtractor{
		command:       command,
		requiredFiles: requiredFiles,
		logger:        log,
	}
}

// Extract runs the named extractor plugin against the clone at path.
func (e *ExecExtractor) Extract(ctx context.Context, name, path string) ([]ExtractResult, error) {
	cmd := exec.CommandContext(ctx, e.command, name, path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running metadata extractor", "extractor", name, "path", path)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extractor %s failed: %w: %s", name, err, stderr.String())
	}

	var results []ExtractResult
	if err := json.Unmarshal(stdout.Bytes(), &results); err != nil {
		return nil, fmt.Errorf("extractor %s produced unparseable output: %w", name, err)
	}

	return results, nil
}

// RequiredFiles returns the dataset-relative files the named extractor needs.
func (e *ExecExtractor) RequiredFiles(name string) []string {
	return e.requiredFiles[name]
}
