package store

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/mmcdole/earmark/internal/domain"
)

// TaskRegistry implements domain.TaskRegistry on the shared DB. Register
// commits synchronously, so a returned Register precedes any transfer
// start the caller performs afterwards.
type TaskRegistry struct {
	db *DB
	mu sync.Mutex
}

// NewTaskRegistry creates a task registry over an open DB.
func NewTaskRegistry(db *DB) *TaskRegistry {
	return &TaskRegistry{db: db}
}

func (r *TaskRegistry) Register(ref domain.DownloadTaskRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.set(bucketTransfers, transferKey(ref.TransferID), ref)
}

func (r *TaskRegistry) Lookup(transferID int64) (domain.DownloadTaskRef, bool, error) {
	var ref domain.DownloadTaskRef
	if !r.db.get(bucketTransfers, transferKey(transferID), &ref) {
		return domain.DownloadTaskRef{}, false, nil
	}
	return ref, true, nil
}

func (r *TaskRegistry) Remove(transferID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.delete(bucketTransfers, transferKey(transferID))
}

func (r *TaskRegistry) List() ([]domain.DownloadTaskRef, error) {
	var out []domain.DownloadTaskRef
	err := r.db.forEach(bucketTransfers, "", func(_ string, value []byte) error {
		var ref domain.DownloadTaskRef
		if err := json.Unmarshal(value, &ref); err != nil {
			return err
		}
		out = append(out, ref)
		return nil
	})
	return out, err
}

func transferKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
