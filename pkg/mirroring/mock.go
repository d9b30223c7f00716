package mirroring

import (
	"context"
)

// MockPusher pretends to push, keeping track of the paths it was given.
// Tests and dry runs reach it through the "mock" push target kind.
type MockPusher struct {
	Pushed []string
}

func (p *MockPusher) Push(ctx context.Context, localPath string) error {
	p.Pushed = append(p.Pushed, localPath)
	return nil
}
