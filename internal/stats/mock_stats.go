package stats

// MockUpdater is a no-op stats provider for tests.
type MockUpdater struct{}

func (m *MockUpdater) Incr(name string) {}

func (m *MockUpdater) Decr(name string) {}

func (m *MockUpdater) RegisterMetric(name string) {}

func (m *MockUpdater) Run() {}
