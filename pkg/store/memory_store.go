package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChaceN89/library/pkg/domain"
)

// MemoryStore keeps records in-process and emulates the relational cascades
// of GormStore. Insertion order is preserved for listings.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	userOrder []string
	usernames map[string]string // username -> user ID
	books     map[string]domain.Book
	bookOrder []string
	comments  map[string]domain.Comment
	commOrder []string
	favorites map[string]domain.FavoriteBook // key: userID + "|" + bookID
	pictures  map[string]domain.ProfilePicture
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		usernames: make(map[string]string),
		books:     make(map[string]domain.Book),
		comments:  make(map[string]domain.Comment),
		favorites: make(map[string]domain.FavoriteBook),
		pictures:  make(map[string]domain.ProfilePicture),
	}
}

func favoriteKey(userID, bookID string) string {
	return userID + "|" + bookID
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.usernames[u.Username]; taken {
		return fmt.Errorf("%w: username", ErrDuplicate)
	}
	if _, exists := m.users[u.ID]; exists {
		return fmt.Errorf("%w: id", ErrDuplicate)
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	m.userOrder = append(m.userOrder, u.ID)
	return nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.users[u.ID]
	if !ok {
		return ErrMissing
	}
	if owner, taken := m.usernames[u.Username]; taken && owner != u.ID {
		return fmt.Errorf("%w: username", ErrDuplicate)
	}
	u.DateJoined = prev.DateJoined
	delete(m.usernames, prev.Username)
	m.usernames[u.Username] = u.ID
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id, placeholder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrMissing
	}
	now := time.Now().UTC()
	for cid, c := range m.comments {
		if c.AuthorID() == id {
			c.Content = placeholder
			c.IsDeleted = true
			c.UserID = nil
			c.UpdatedAt = now
			m.comments[cid] = c
		}
	}
	for bid, b := range m.books {
		if b.OwnerID == id {
			m.deleteBookLocked(bid)
		}
	}
	for key, f := range m.favorites {
		if f.UserID == id {
			delete(m.favorites, key)
		}
	}
	delete(m.pictures, id)
	delete(m.usernames, u.Username)
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) CreateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[b.OwnerID]; !ok {
		return fmt.Errorf("store: book owner %s does not exist", b.OwnerID)
	}
	if _, exists := m.books[b.ID]; exists {
		return fmt.Errorf("%w: id", ErrDuplicate)
	}
	m.books[b.ID] = b
	m.bookOrder = append(m.bookOrder, b.ID)
	return nil
}

func (m *MemoryStore) UpdateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.books[b.ID]
	if !ok {
		return ErrMissing
	}
	b.OwnerID = prev.OwnerID
	b.CreatedAt = prev.CreatedAt
	b.Downloads = prev.Downloads
	b.Views = prev.Views
	m.books[b.ID] = b
	return nil
}

func (m *MemoryStore) IncrementBookStat(_ context.Context, id, stat string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrMissing
	}
	switch stat {
	case StatViews:
		b.Views++
	case StatDownloads:
		b.Downloads++
	default:
		return fmt.Errorf("store: unknown book stat %q", stat)
	}
	m.books[id] = b
	return nil
}

func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return ErrMissing
	}
	m.deleteBookLocked(id)
	return nil
}

func (m *MemoryStore) deleteBookLocked(id string) {
	for cid, c := range m.comments {
		if c.BookID == id {
			delete(m.comments, cid)
		}
	}
	for key, f := range m.favorites {
		if f.BookID == id {
			delete(m.favorites, key)
		}
	}
	delete(m.books, id)
}

func (m *MemoryStore) ListBooksByOwner(_ context.Context, ownerID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok && b.OwnerID == ownerID {
			res = append(res, b)
		}
	}
	return res, nil
}

func (m *MemoryStore) SearchBooks(_ context.Context, q BookQuery) ([]domain.Book, int, error) {
	m.mu.RLock()
	matched := make([]domain.Book, 0)
	term := strings.ToLower(strings.TrimSpace(q.Search))
	for _, id := range m.bookOrder {
		b, ok := m.books[id]
		if !ok {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(b.Title), term) &&
			!strings.Contains(strings.ToLower(b.Author), term) &&
			!strings.Contains(strings.ToLower(b.Description), term) {
			continue
		}
		if (q.Genre != "" && b.Genre != q.Genre) ||
			(q.Language != "" && b.Language != q.Language) ||
			(q.Author != "" && b.Author != q.Author) ||
			(q.OwnerID != "" && b.OwnerID != q.OwnerID) {
			continue
		}
		matched = append(matched, b)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		for _, sf := range q.Sort {
			if _, ok := SortableBookFields[sf.Field]; !ok {
				continue
			}
			c := compareBooks(matched[i], matched[j], sf.Field)
			if c == 0 {
				continue
			}
			if sf.Descending {
				return c > 0
			}
			return c < 0
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return matched[start:end], total, nil
}

func compareBooks(a, b domain.Book, field string) int {
	switch field {
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "author":
		return strings.Compare(a.Author, b.Author)
	case "published_date":
		return compareTimes(a.PublishedDate, b.PublishedDate)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "views":
		return compareInts(a.Views, b.Views)
	case "downloads":
		return compareInts(a.Downloads, b.Downloads)
	}
	return 0
}

func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (m *MemoryStore) CreateComment(_ context.Context, c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[c.BookID]; !ok {
		return fmt.Errorf("store: comment book %s does not exist", c.BookID)
	}
	if c.ParentID != nil {
		if _, ok := m.comments[*c.ParentID]; !ok {
			return fmt.Errorf("store: parent comment %s does not exist", *c.ParentID)
		}
	}
	m.comments[c.ID] = c
	m.commOrder = append(m.commOrder, c.ID)
	return nil
}

func (m *MemoryStore) UpdateComment(_ context.Context, c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.comments[c.ID]
	if !ok {
		return ErrMissing
	}
	prev.Content = c.Content
	prev.IsEdited = c.IsEdited
	prev.IsDeleted = c.IsDeleted
	prev.UpdatedAt = c.UpdatedAt
	m.comments[c.ID] = prev
	return nil
}

func (m *MemoryStore) GetComment(_ context.Context, id string) (domain.Comment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	return c, ok, nil
}

func (m *MemoryStore) ListCommentsByBook(_ context.Context, bookID string) ([]domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Comment, 0)
	for _, id := range m.commOrder {
		if c, ok := m.comments[id]; ok && c.BookID == bookID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryStore) CreateFavorite(_ context.Context, f domain.FavoriteBook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := favoriteKey(f.UserID, f.BookID)
	if _, exists := m.favorites[key]; exists {
		return fmt.Errorf("%w: favorite", ErrDuplicate)
	}
	m.favorites[key] = f
	return nil
}

func (m *MemoryStore) HasFavorite(_ context.Context, userID, bookID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.favorites[favoriteKey(userID, bookID)]
	return ok, nil
}

func (m *MemoryStore) DeleteFavorite(_ context.Context, userID, bookID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := favoriteKey(userID, bookID)
	if _, ok := m.favorites[key]; !ok {
		return false, nil
	}
	delete(m.favorites, key)
	return true, nil
}

func (m *MemoryStore) ListFavoritesByUser(_ context.Context, userID string) ([]domain.FavoriteBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.FavoriteBook, 0)
	for _, f := range m.favorites {
		if f.UserID == userID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].BookID < res[j].BookID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (m *MemoryStore) GetProfilePicture(_ context.Context, userID string) (domain.ProfilePicture, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pictures[userID]
	return p, ok, nil
}

func (m *MemoryStore) SaveProfilePicture(_ context.Context, p domain.ProfilePicture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.pictures[p.UserID]; ok {
		p.ID = prev.ID
	}
	m.pictures[p.UserID] = p
	return nil
}

func (m *MemoryStore) DeleteProfilePicture(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pictures, userID)
	return nil
}
