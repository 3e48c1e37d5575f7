package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/NobleSOL/dexkeeta-sub000/internal/model"
)

type fileRecord struct {
	Kind  string               `json:"kind"`
	Pool  *model.PoolRecord    `json:"pool,omitempty"`
	Share *model.SharePosition `json:"share,omitempty"`
	Swap  *model.SwapState     `json:"swap,omitempty"`
}

const (
	recordKindPool  = "pool"
	recordKindShare = "share"
	recordKindSwap  = "swap"
)

// FileStore is a JSONL-backed Store. Every mutation appends one JSON line;
// the full state is replayed into memory when the store opens. Suitable for
// development and tests, not for concurrent processes.
type FileStore struct {
	path string

	mu     sync.Mutex
	pools  map[string]model.PoolRecord
	shares map[string]map[string]string
	swaps  map[string]model.SwapState
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (and if needed replays) a JSONL store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		pools:  make(map[string]model.PoolRecord),
		shares: make(map[string]map[string]string),
		swaps:  make(map[string]model.SwapState),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) replay() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record fileRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("decode store record: %w", err)
		}
		s.applyLocked(record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	return nil
}

func (s *FileStore) applyLocked(record fileRecord) {
	switch record.Kind {
	case recordKindPool:
		if record.Pool != nil {
			s.pools[record.Pool.PoolAddress] = *record.Pool
		}
	case recordKindShare:
		if record.Share != nil {
			byUser := s.shares[record.Share.PoolAddress]
			if byUser == nil {
				byUser = make(map[string]string)
				s.shares[record.Share.PoolAddress] = byUser
			}
			if record.Share.Shares == "0" {
				delete(byUser, record.Share.User)
			} else {
				byUser[record.Share.User] = record.Share.Shares
			}
		}
	case recordKindSwap:
		if record.Swap != nil {
			s.swaps[record.Swap.ID] = *record.Swap
		}
	}
}

func (s *FileStore) appendLocked(record fileRecord) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal store record: %w", err)
	}
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write store record: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	return nil
}

func (s *FileStore) SavePool(_ context.Context, pool model.PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := fileRecord{Kind: recordKindPool, Pool: &pool}
	if err := s.appendLocked(record); err != nil {
		return err
	}
	s.applyLocked(record)
	return nil
}

func (s *FileStore) LoadPools(_ context.Context) ([]model.PoolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pools := make([]model.PoolRecord, 0, len(s.pools))
	for _, pool := range s.pools {
		pools = append(pools, pool)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].PoolAddress < pools[j].PoolAddress })
	return pools, nil
}

func (s *FileStore) SaveShareBalance(_ context.Context, poolAddress, user string, shares *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := fileRecord{Kind: recordKindShare, Share: &model.SharePosition{
		PoolAddress: poolAddress,
		User:        user,
		Shares:      shares.String(),
	}}
	if err := s.appendLocked(record); err != nil {
		return err
	}
	s.applyLocked(record)
	return nil
}

func (s *FileStore) GetShareBalances(_ context.Context, poolAddress string) ([]model.SharePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser := s.shares[poolAddress]
	positions := make([]model.SharePosition, 0, len(byUser))
	for user, shares := range byUser {
		positions = append(positions, model.SharePosition{PoolAddress: poolAddress, User: user, Shares: shares})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].User < positions[j].User })
	return positions, nil
}

func (s *FileStore) GetUserPositions(_ context.Context, user string) ([]model.SharePosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var positions []model.SharePosition
	for poolAddress, byUser := range s.shares {
		if shares, ok := byUser[user]; ok {
			positions = append(positions, model.SharePosition{PoolAddress: poolAddress, User: user, Shares: shares})
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].PoolAddress < positions[j].PoolAddress })
	return positions, nil
}

func (s *FileStore) SaveSwapState(_ context.Context, state model.SwapState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := fileRecord{Kind: recordKindSwap, Swap: &state}
	if err := s.appendLocked(record); err != nil {
		return err
	}
	s.applyLocked(record)
	return nil
}

func (s *FileStore) PendingSwaps(_ context.Context, poolAddress string) ([]model.SwapState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []model.SwapState
	for _, state := range s.swaps {
		if state.State != model.SwapStatePhase1Confirmed {
			continue
		}
		if poolAddress != "" && state.PoolAddress != poolAddress {
			continue
		}
		pending = append(pending, state)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending, nil
}
