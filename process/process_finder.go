package process

// ProcessFinder defines operations for discovering processes
type ProcessFinder interface {
	// FindProcessByName finds processes by their name
	FindProcessByName(name string) ([]ProcessInfo, error)

	// FindAllProcesses returns information about all running processes
	FindAllProcesses() ([]ProcessInfo, error)
}
