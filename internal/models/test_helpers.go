package models

// NewTestAdStore creates an in-memory ad store seeded with ads for tests.
func NewTestAdStore(ads ...Ad) *InMemoryAdStore {
	s := NewInMemoryAdStore()
	if len(ads) > 0 {
		if err := s.SetAds(ads); err != nil {
			panic(err)
		}
	}
	return s
}

// Ptr returns a pointer to v. Handy for the optional Ad fields.
func Ptr[T any](v T) *T {
	return &v
}
