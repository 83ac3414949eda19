package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/concord-chat/helpdesk/internal/models"
	"github.com/concord-chat/helpdesk/pkg/crypto"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// User is an account that can sign in to the chat
type User struct {
	ID           int64
	Username     string
	FullName     string
	Role         models.Role
	PasswordHash string
	CreatedAt    time.Time
}

// DisplayName returns the full name if set, otherwise the username
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Room is the single support conversation of one shopper
type Room struct {
	ID             int64
	UserID         int64
	UnreadForUser  int
	UnreadForAdmin int
	UserLastSeen   time.Time
	AdminLastSeen  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is a stored chat message joined with its sender
type Message struct {
	ID         int64
	RoomID     int64
	SenderID   int64
	SenderName string
	SenderRole models.Role
	Content    string
	CreatedAt  time.Time
	ReadAt     time.Time
}

// New creates a new database connection and initializes schema
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	wrapper := &DB{db}
	if err := wrapper.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return wrapper, nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		full_name TEXT,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'USER',
		created_at INTEGER NOT NULL
	);

	-- Sessions table (bearer credentials, stored hashed)
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	-- One support room per shopper
	CREATE TABLE IF NOT EXISTS chat_rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		unread_for_user INTEGER NOT NULL DEFAULT 0,
		unread_for_admin INTEGER NOT NULL DEFAULT 0,
		user_last_seen INTEGER,
		admin_last_seen INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Messages table
	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		read_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token_hash);
	CREATE INDEX IF NOT EXISTS idx_chat_rooms_updated ON chat_rooms(updated_at);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// --- User Operations ---

// CreateUser inserts a new user into the database
func (db *DB) CreateUser(username, fullName, passwordHash string, role models.Role) (*User, error) {
	now := time.Now()
	res, err := db.Exec(`
		INSERT INTO users (username, full_name, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		username, fullName, passwordHash, string(role), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           id,
		Username:     username,
		FullName:     fullName,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    fromMillis(toMillis(now)),
	}, nil
}

// GetUserByID retrieves a user by their ID
func (db *DB) GetUserByID(id int64) (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, username, full_name, password_hash, role, created_at
		FROM users WHERE id = ?`, id))
}

// GetUserByUsername retrieves a user by their username
func (db *DB) GetUserByUsername(username string) (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, username, full_name, password_hash, role, created_at
		FROM users WHERE username = ?`, username))
}

// UpdatePasswordHash replaces the stored password hash of a user
func (db *DB) UpdatePasswordHash(userID int64, passwordHash string) error {
	res, err := db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password of user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the number of accounts
func (db *DB) CountUsers() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var fullName sql.NullString
	var role string
	var createdAt int64

	err := row.Scan(&u.ID, &u.Username, &fullName, &u.PasswordHash, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.FullName = fullName.String
	u.Role = models.ParseRole(role)
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// --- Session Operations ---

// CreateSession stores a hashed bearer credential for userID
func (db *DB) CreateSession(userID int64, tokenHash string, expiresAt time.Time) (string, error) {
	sessionID := crypto.NewID()
	_, err := db.Exec(`
		INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, userID, tokenHash, toMillis(time.Now()), toMillis(expiresAt))
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// GetUserBySession returns the owner of an unexpired session
func (db *DB) GetUserBySession(tokenHash string) (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT u.id, u.username, u.full_name, u.password_hash, u.role, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ? AND s.expires_at > ?`,
		tokenHash, toMillis(time.Now())))
}

// DeleteSession removes a session
func (db *DB) DeleteSession(tokenHash string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

// --- Room Operations ---

const roomColumns = `id, user_id, unread_for_user, unread_for_admin, user_last_seen, admin_last_seen, created_at, updated_at`

// GetOrCreateRoom returns the shopper's room, creating it on first use
func (db *DB) GetOrCreateRoom(userID int64) (*Room, error) {
	now := toMillis(time.Now())
	_, err := db.Exec(`
		INSERT OR IGNORE INTO chat_rooms (user_id, created_at, updated_at)
		VALUES (?, ?, ?)`, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create room for user %d: %w", userID, err)
	}
	return scanRoom(db.QueryRow(`SELECT `+roomColumns+` FROM chat_rooms WHERE user_id = ?`, userID))
}

// GetRoom retrieves a room by its ID
func (db *DB) GetRoom(id int64) (*Room, error) {
	return scanRoom(db.QueryRow(`SELECT `+roomColumns+` FROM chat_rooms WHERE id = ?`, id))
}

// GetRooms returns every room, most recently active first
func (db *DB) GetRooms() ([]*Room, error) {
	rows, err := db.Query(`SELECT ` + roomColumns + ` FROM chat_rooms ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// TotalUnreadForAdmin sums the staff-side unread counters of all rooms
func (db *DB) TotalUnreadForAdmin() (int, error) {
	var n sql.NullInt64
	if err := db.QueryRow(`SELECT SUM(unread_for_admin) FROM chat_rooms`).Scan(&n); err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

// MarkRead zeroes one side's unread counter and stamps its last-seen time
func (db *DB) MarkRead(roomID int64, staff bool) error {
	now := toMillis(time.Now())

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if staff {
		res, err = tx.Exec(`UPDATE chat_rooms SET unread_for_admin = 0, admin_last_seen = ? WHERE id = ?`, now, roomID)
	} else {
		res, err = tx.Exec(`UPDATE chat_rooms SET unread_for_user = 0, user_last_seen = ? WHERE id = ?`, now, roomID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark room %d read: %w", roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	// Messages written by the other side are now read
	ownerCond := "sender_id = (SELECT user_id FROM chat_rooms WHERE id = ?)"
	if !staff {
		ownerCond = "sender_id != (SELECT user_id FROM chat_rooms WHERE id = ?)"
	}
	if _, err := tx.Exec(`UPDATE chat_messages SET read_at = ? WHERE room_id = ? AND read_at IS NULL AND `+ownerCond,
		now, roomID, roomID); err != nil {
		return fmt.Errorf("failed to stamp read messages: %w", err)
	}

	return tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row scanner) (*Room, error) {
	r := &Room{}
	var userSeen, adminSeen sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &r.UserID, &r.UnreadForUser, &r.UnreadForAdmin,
		&userSeen, &adminSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if userSeen.Valid {
		r.UserLastSeen = fromMillis(userSeen.Int64)
	}
	if adminSeen.Valid {
		r.AdminLastSeen = fromMillis(adminSeen.Int64)
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

// --- Message Operations ---

const messageSelect = `
	SELECT m.id, m.room_id, m.sender_id, COALESCE(NULLIF(u.full_name, ''), u.username), u.role,
		m.content, m.created_at, m.read_at
	FROM chat_messages m JOIN users u ON u.id = m.sender_id`

// CreateMessage stores a message and bumps the receiving side's unread counter
func (db *DB) CreateMessage(roomID int64, sender *User, content string) (*Message, error) {
	now := toMillis(time.Now())

	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO chat_messages (room_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?)`, roomID, sender.ID, content, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	counter := "unread_for_admin"
	if sender.Role.IsStaff() {
		counter = "unread_for_user"
	}
	if _, err := tx.Exec(`UPDATE chat_rooms SET `+counter+` = `+counter+` + 1, updated_at = ? WHERE id = ?`,
		now, roomID); err != nil {
		return nil, fmt.Errorf("failed to update room %d: %w", roomID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.DisplayName(),
		SenderRole: sender.Role,
		Content:    content,
		CreatedAt:  fromMillis(now),
	}, nil
}

// GetMessages returns one page of a room's messages, newest first
func (db *DB) GetMessages(roomID int64, page, size int) ([]*Message, error) {
	if size <= 0 {
		size = 50
	}
	if page < 0 {
		page = 0
	}

	rows, err := db.Query(messageSelect+`
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?`, roomID, size, page*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetLastMessage returns the newest message of a room, or nil when it has none
func (db *DB) GetLastMessage(roomID int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(messageSelect+`
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1`, roomID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func scanMessage(row scanner) (*Message, error) {
	m := &Message{}
	var role string
	var createdAt int64
	var readAt sql.NullInt64

	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &role, &m.Content, &createdAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.SenderRole = models.ParseRole(role)
	m.CreatedAt = fromMillis(createdAt)
	if readAt.Valid {
		m.ReadAt = fromMillis(readAt.Int64)
	}
	return m, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
