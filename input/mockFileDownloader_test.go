package input

import (
	"context"
	"os"

	"github.com/stretchr/testify/mock"
)

// MockFileDownloader ...
type MockFileDownloader struct {
	mock.Mock
}

// Get ...
func (m *MockFileDownloader) Get(ctx context.Context, destination, source string) error {
	args := m.Called(ctx, destination, source)
	return args.Error(0)
}

// GivenGetFails ...
func (m *MockFileDownloader) GivenGetFails(reason error) *MockFileDownloader {
	m.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(reason)
	return m
}

// GivenGetSucceeds writes content to the requested destination.
func (m *MockFileDownloader) GivenGetSucceeds(content string) *MockFileDownloader {
	m.On("Get", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if err := os.WriteFile(args.String(1), []byte(content), 0600); err != nil {
				panic(err)
			}
		}).
		Return(nil)
	return m
}
