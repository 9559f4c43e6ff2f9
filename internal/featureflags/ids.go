package featureflags

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewID generates a flag identifier.
func NewID() string {
	return "ff_" + uuid.New().String()[:22]
}

// prepareCreate assigns an id and creation timestamps to a new flag.
func prepareCreate(flag *FeatureFlag, now time.Time) {
	if flag.ID == "" {
		flag.ID = NewID()
	}
	flag.CreatedAt = now
	flag.UpdatedAt = now
	flag.stampEnvironments(now)
}

// prepareUpdate carries the stored creation time over and refreshes UpdatedAt.
func prepareUpdate(flag, existing *FeatureFlag, now time.Time) {
	flag.CreatedAt = existing.CreatedAt
	flag.UpdatedAt = now
	if flag.UpdatedAt.Before(flag.CreatedAt) {
		flag.UpdatedAt = flag.CreatedAt
	}
	flag.stampEnvironments(now)
}

func sortByKey(flags []*FeatureFlag) {
	sort.Slice(flags, func(i, j int) bool {
		return NormalizeKey(flags[i].Key) < NormalizeKey(flags[j].Key)
	})
}
