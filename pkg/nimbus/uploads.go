package nimbus

import "sync"

// uploadSlots counts in-flight uploads per uploader and tier.
type uploadSlots struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newUploadSlots() *uploadSlots {
	return &uploadSlots{inFlight: make(map[string]int)}
}

func slotKey(tier, uploaderID string) string {
	return tier + "\x00" + uploaderID
}

// acquire takes a slot if fewer than limit are held. A non-positive limit
// always succeeds without counting.
func (u *uploadSlots) acquire(tier, uploaderID string, limit int) (release func(), ok bool) {
	if limit <= 0 || uploaderID == "" {
		return func() {}, true
	}
	key := slotKey(tier, uploaderID)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.inFlight[key] >= limit {
		return nil, false
	}
	u.inFlight[key]++

	var once sync.Once
	return func() {
		once.Do(func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			if u.inFlight[key]--; u.inFlight[key] <= 0 {
				delete(u.inFlight, key)
			}
		})
	}, true
}

func (u *uploadSlots) held(tier, uploaderID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inFlight[slotKey(tier, uploaderID)]
}
