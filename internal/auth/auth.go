package auth

// Service gates who may open check sessions. An empty allowlist admits
// everyone; the admin is always admitted.
type Service struct {
	adminID      int64
	allowedUsers map[int64]struct{}
}

func New(allowed []int64, adminID int64) *Service {
	s := &Service{adminID: adminID, allowedUsers: make(map[int64]struct{}, len(allowed))}
	for _, id := range allowed {
		s.allowedUsers[id] = struct{}{}
	}
	return s
}

func (s *Service) IsAllowed(userID int64) bool {
	if s == nil || len(s.allowedUsers) == 0 {
		return true
	}
	if s.IsAdmin(userID) {
		return true
	}
	_, ok := s.allowedUsers[userID]
	return ok
}

func (s *Service) IsAdmin(userID int64) bool {
	return s != nil && s.adminID != 0 && s.adminID == userID
}

func (s *Service) AdminID() int64 {
	if s == nil {
		return 0
	}
	return s.adminID
}
