package core

// Close closes the session and releases resources. It is idempotent and safe
// on a store that was never opened. Operations after Close fail with
// ErrStoreClosed until Open is called again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}

	if s.stmts != nil {
		s.stmts.purge()
		s.stmts = nil
	}

	db := s.db
	s.db = nil
	s.open = false
	s.accelerated = false

	if err := db.Close(); err != nil {
		return wrapError("close", err)
	}

	s.logger.Info("vector store closed")
	return nil
}
