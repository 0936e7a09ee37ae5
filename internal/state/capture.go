package state

import (
	"codemodctl/internal/change"
	"codemodctl/internal/explorer"
	"codemodctl/internal/repository"
)

// Capture takes a snapshot of repo and views.
func Capture(repo *repository.Repository, views *explorer.Views) Snapshot {
	return Snapshot{Repository: repo.Snapshot(), Views: views.All()}
}

// Apply restores snap into repo and views. Views of cases the repository
// did not keep are dropped. It returns the number of skipped entries.
func Apply(snap Snapshot, repo *repository.Repository, views *explorer.Views) int {
	skipped := repo.Restore(snap.Repository)

	restored := make(map[change.CaseHash]*explorer.View, len(snap.Views))
	for h, v := range snap.Views {
		if _, ok := repo.Case(h); !ok {
			skipped++
			continue
		}
		restored[h] = v
	}
	views.Restore(restored)
	return skipped
}
