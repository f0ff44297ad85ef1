package watcher

// ChangeAnalysis describes what changed and what needs to be reloaded
// before the check is re-run
type ChangeAnalysis struct {
	ReloadConfig  bool
	ReloadFixture bool
	ChangedFiles  []string
}

// AnalyzeChanges determines what to reload based on what changed
func AnalyzeChanges(event ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	switch event.Type {
	case ChangeTypeConfig:
		// Config changes can alter ignore types and report options,
		// so the fixture is checked again with the new config
		analysis.ReloadConfig = true
		analysis.ReloadFixture = true

	case ChangeTypeFixture:
		analysis.ReloadFixture = true
	}

	return analysis
}
