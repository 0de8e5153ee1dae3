package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// buildCLI compiles the resen binary into a temporary directory.
func buildCLI(t *testing.T) string {
	t.Helper()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}

	binaryPath := filepath.Join(t.TempDir(), "resen")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/resen")
	buildCmd.Dir = originalDir
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI binary: %v\n%s", err, output)
	}
	return binaryPath
}

// runCLI runs the binary with an isolated log directory and state file.
func runCLI(t *testing.T, binaryPath, workDir string, args ...string) (string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"RESEN_LOG_DIR="+workDir,
		"RESEN_STATE_FILE="+filepath.Join(workDir, "state.json"),
	)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func writeBucket(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create bucket file: %v", err)
	}
	return path
}

func TestCLI_ErrorHandling_BucketNotFound(t *testing.T) {
	binaryPath := buildCLI(t)
	tempDir := t.TempDir()

	output, err := runCLI(t, binaryPath, tempDir, "status", "-f", "nonexistent.yml")
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}

	expectedParts := []string{
		"Error:",
		"Failed to locate bucket file",
		"Cause:",
		"nonexistent.yml does not exist",
		"Suggestion:",
	}
	for _, part := range expectedParts {
		if !strings.Contains(output, part) {
			t.Errorf("Expected output to contain %q, but got: %s", part, output)
		}
	}

	logFile := filepath.Join(tempDir, "resen.log")
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("Expected resen.log to be created")
	}
}

func TestCLI_ErrorHandling_MalformedBucketFile(t *testing.T) {
	binaryPath := buildCLI(t)
	tempDir := t.TempDir()

	invalidYAML := `invalid: yaml: content:
  - this is not valid
    yaml: structure
      with: improper
    indentation`
	path := writeBucket(t, tempDir, "bucket.yml", invalidYAML)

	output, err := runCLI(t, binaryPath, tempDir, "status", "-f", path)
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}
	if !strings.Contains(output, "Error:") {
		t.Errorf("Expected error output, but got: %s", output)
	}
}

func TestCLI_ErrorHandling_InvalidBucketPorts(t *testing.T) {
	binaryPath := buildCLI(t)
	tempDir := t.TempDir()

	path := writeBucket(t, tempDir, "bucket.yml", `apiVersion: v1
kind: Bucket
metadata:
  name: demo
docker:
  image: "2019.1.0"
  imageId: sha256:1111
  pullImage: earthcubeingeo/resen-lite@sha256:abcd
  ports:
    - hostPort: 70000
      containerPort: 8888
      tcp: true`)

	output, err := runCLI(t, binaryPath, tempDir, "status", "-f", path)
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}
	if !strings.Contains(output, "hostPort") && !strings.Contains(output, "HostPort") {
		t.Errorf("Expected output to name the invalid port field, but got: %s", output)
	}
}

func TestCLI_ErrorHandling_MissingFileFlag(t *testing.T) {
	binaryPath := buildCLI(t)

	output, err := runCLI(t, binaryPath, t.TempDir(), "start")
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}
	if !strings.Contains(output, `required flag(s) "file" not set`) {
		t.Errorf("Expected output about the required file flag, but got: %s", output)
	}
}

func TestCLI_ErrorHandling_InvalidFlag(t *testing.T) {
	binaryPath := buildCLI(t)

	output, err := runCLI(t, binaryPath, t.TempDir(), "status", "--invalid-flag")
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}
	if !strings.Contains(output, "Error:") && !strings.Contains(output, "unknown flag") {
		t.Errorf("Expected error output about unknown flag, but got: %s", output)
	}
}

func TestCLI_ErrorHandling_InvalidLogLevel(t *testing.T) {
	binaryPath := buildCLI(t)
	tempDir := t.TempDir()

	output, err := runCLI(t, binaryPath, tempDir, "import", "archive.tar", "--log-level", "chatty")
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}
	if !strings.Contains(output, `Invalid log level "chatty"`) {
		t.Errorf("Expected output about the log level, but got: %s", output)
	}
}

func TestCLI_ErrorHandling_ImportMissingArchive(t *testing.T) {
	binaryPath := buildCLI(t)
	tempDir := t.TempDir()

	// Only reachable with a Docker daemon; without one the connection error is reported instead.
	output, err := runCLI(t, binaryPath, tempDir, "import", filepath.Join(tempDir, "missing.tar"))
	if err == nil {
		t.Error("Expected command to fail but it succeeded")
	}
	if !strings.Contains(output, "Error:") {
		t.Errorf("Expected structured error output, but got: %s", output)
	}
}

// TestCLI_ExportImportRoundTrip needs a Docker daemon. Set RESEN_INTEGRATION=1
// and point RESEN_INTEGRATION_PULL_IMAGE at a repository@digest reference with
// a POSIX shell, e.g. docker.io/library/alpine@sha256:..., and
// RESEN_INTEGRATION_IMAGE_ID at the image id that reference resolves to.
func TestCLI_ExportImportRoundTrip(t *testing.T) {
	if os.Getenv("RESEN_INTEGRATION") == "" {
		t.Skip("set RESEN_INTEGRATION=1 to run against a Docker daemon")
	}
	pullImage := os.Getenv("RESEN_INTEGRATION_PULL_IMAGE")
	imageID := os.Getenv("RESEN_INTEGRATION_IMAGE_ID")
	if pullImage == "" || imageID == "" {
		t.Skip("RESEN_INTEGRATION_PULL_IMAGE and RESEN_INTEGRATION_IMAGE_ID are required")
	}

	binaryPath := buildCLI(t)
	tempDir := t.TempDir()
	t.Setenv("RESEN_CONTAINER_COMMAND", "sh")
	t.Setenv("RESEN_CONTAINER_USER", "root")

	bucketYAML := func(name, id string) string {
		return `apiVersion: v1
kind: Bucket
metadata:
  name: ` + name + `
docker:
  image: resen-it
  imageId: ` + id + `
  pullImage: ` + pullImage + "\n"
	}

	source := writeBucket(t, tempDir, "source.yml", bucketYAML("resen-it-source", imageID))
	t.Cleanup(func() { _, _ = runCLI(t, binaryPath, tempDir, "remove", "-f", source) })

	run := func(args ...string) string {
		t.Helper()
		output, err := runCLI(t, binaryPath, tempDir, args...)
		if err != nil {
			t.Fatalf("resen %s failed: %v\n%s", strings.Join(args, " "), err, output)
		}
		return output
	}

	run("provision", "-f", source)
	run("exec", "-f", source, "--detach=false", "sh -c 'echo round-trip > /tmp/marker'")

	archivePath := filepath.Join(tempDir, "bucket.tar")
	run("export", "-f", source, "-o", archivePath, "--tag", "roundtrip")
	if info, err := os.Stat(archivePath); err != nil || info.Size() == 0 {
		t.Fatalf("Expected a non-empty archive at %s: %v", archivePath, err)
	}

	importedID := strings.TrimSpace(lastLine(run("import", archivePath)))
	if !strings.HasPrefix(importedID, "sha256:") {
		t.Fatalf("Expected an image id from import, got %q", importedID)
	}

	restored := writeBucket(t, tempDir, "restored.yml", bucketYAML("resen-it-restored", importedID))
	t.Cleanup(func() { _, _ = runCLI(t, binaryPath, tempDir, "remove", "-f", restored) })

	run("provision", "-f", restored)
	output := run("exec", "-f", restored, "--detach=false", "cat /tmp/marker")
	if !strings.Contains(output, "round-trip") {
		t.Errorf("Expected restored container to keep /tmp/marker, got: %s", output)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
