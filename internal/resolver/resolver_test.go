package resolver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	resenerrors "resen/internal/errors"
	"resen/pkg/bucket"
	"resen/pkg/runtime/runtimetest"
)

const pullStream = `{"status":"Pulling fs layer","progressDetail":{},"id":"l1"}
{"status":"Downloading","progressDetail":{"current":10,"total":10},"progress":"[=>]","id":"l1"}
{"status":"Status: Downloaded newer image for repo@sha256:abcd"}
`

func testSpec() *bucket.ContainerSpec {
	return &bucket.ContainerSpec{
		Name:      "demo",
		Image:     "mytag",
		ImageID:   "sha256:1111",
		PullImage: "repo@sha256:abcd",
	}
}

func TestSplitPullReference(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantRepo   string
		wantDigest string
		expectErr  bool
	}{
		{name: "digest reference", ref: "repo@sha256:abcd", wantRepo: "repo", wantDigest: "sha256:abcd"},
		{name: "registry with port", ref: "localhost:5000/ns/repo@sha256:ff", wantRepo: "localhost:5000/ns/repo", wantDigest: "sha256:ff"},
		{name: "tag only", ref: "repo:latest", expectErr: true},
		{name: "missing repo", ref: "@sha256:abcd", expectErr: true},
		{name: "missing digest", ref: "repo@", expectErr: true},
		{name: "empty", ref: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, digest, err := SplitPullReference(tt.ref)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, resenerrors.ErrMalformedInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRepo, repo)
			assert.Equal(t, tt.wantDigest, digest)
		})
	}
}

func TestEnsureImage(t *testing.T) {
	tests := []struct {
		name          string
		spec          func() *bucket.ContainerSpec
		setupMock     func(*runtimetest.MockAPI)
		expectError   bool
		errorIs       error
		errorContains string
		wantOutput    string
	}{
		{
			name: "image already present",
			spec: testSpec,
			setupMock: func(m *runtimetest.MockAPI) {
				m.On("ImageList", mock.Anything, image.ListOptions{All: true}).
					Return([]image.Summary{{ID: "sha256:0000"}, {ID: "sha256:1111"}}, nil).Once()
			},
		},
		{
			name: "pull and tag when absent",
			spec: testSpec,
			setupMock: func(m *runtimetest.MockAPI) {
				m.On("ImageList", mock.Anything, mock.Anything).Return([]image.Summary{}, nil).Once()
				m.On("ImagePull", mock.Anything, "repo@sha256:abcd", image.PullOptions{}).
					Return(io.NopCloser(strings.NewReader(pullStream)), nil).Once()
				m.On("ImageTag", mock.Anything, "repo@sha256:abcd", "repo:mytag").Return(nil).Once()
			},
			wantOutput: "Pulling image: repo:mytag",
		},
		{
			name: "reference without digest fails before pull",
			spec: func() *bucket.ContainerSpec {
				s := testSpec()
				s.PullImage = "repo:latest"
				return s
			},
			setupMock: func(m *runtimetest.MockAPI) {
				m.On("ImageList", mock.Anything, mock.Anything).Return([]image.Summary{}, nil).Once()
			},
			expectError: true,
			errorIs:     resenerrors.ErrMalformedInput,
		},
		{
			name: "pull request fails",
			spec: testSpec,
			setupMock: func(m *runtimetest.MockAPI) {
				m.On("ImageList", mock.Anything, mock.Anything).Return([]image.Summary{}, nil).Once()
				m.On("ImagePull", mock.Anything, "repo@sha256:abcd", mock.Anything).
					Return(nil, errors.New("registry unreachable")).Once()
			},
			expectError:   true,
			errorIs:       resenerrors.ErrPullFailed,
			errorContains: "repo@sha256:abcd",
		},
		{
			name: "error inside pull stream is not tagged",
			spec: testSpec,
			setupMock: func(m *runtimetest.MockAPI) {
				m.On("ImageList", mock.Anything, mock.Anything).Return([]image.Summary{}, nil).Once()
				m.On("ImagePull", mock.Anything, mock.Anything, mock.Anything).
					Return(io.NopCloser(strings.NewReader(`{"error":"manifest unknown"}`)), nil).Once()
			},
			expectError:   true,
			errorIs:       resenerrors.ErrPullFailed,
			errorContains: "manifest unknown",
		},
		{
			name: "list fails",
			spec: testSpec,
			setupMock: func(m *runtimetest.MockAPI) {
				m.On("ImageList", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()
			},
			expectError: true,
			errorIs:     resenerrors.ErrRuntimeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := runtimetest.NewMockAPI()
			tt.setupMock(api)

			var out bytes.Buffer
			r := NewResolver(api, &out)
			err := r.EnsureImage(context.Background(), tt.spec())

			if tt.expectError {
				require.Error(t, err)
				if tt.errorIs != nil {
					assert.True(t, errors.Is(err, tt.errorIs), "unexpected error kind: %v", err)
				}
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				require.NoError(t, err)
			}
			if tt.wantOutput != "" {
				assert.Contains(t, out.String(), tt.wantOutput)
			}

			api.AssertExpectations(t)
		})
	}
}

func TestEnsureImage_Idempotent(t *testing.T) {
	api := runtimetest.NewMockAPI()
	api.On("ImageList", mock.Anything, mock.Anything).Return([]image.Summary{}, nil).Once()
	api.On("ImagePull", mock.Anything, "repo@sha256:abcd", mock.Anything).
		Return(io.NopCloser(strings.NewReader(pullStream)), nil).Once()
	api.On("ImageTag", mock.Anything, "repo@sha256:abcd", "repo:mytag").Return(nil).Once()
	api.On("ImageList", mock.Anything, mock.Anything).Return([]image.Summary{{ID: "sha256:1111"}}, nil).Once()

	r := NewResolver(api, io.Discard)
	spec := testSpec()

	require.NoError(t, r.EnsureImage(context.Background(), spec))
	require.NoError(t, r.EnsureImage(context.Background(), spec))

	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "ImagePull", 1)
	api.AssertNumberOfCalls(t, "ImageList", 2)
}
