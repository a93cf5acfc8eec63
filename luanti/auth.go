package luanti

import (
	"bufio"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cqdetdev/worldstore/internal/errs"
	_ "modernc.org/sqlite"
)

// Player database backends that can be read.
const (
	AuthFiles  = "files"
	AuthSQLite = "sqlite3"
)

// User is a player account of a world.
type User struct {
	Name string
	// Password is the stored password verifier, empty for accounts without a password.
	Password   string
	Privileges []string
	// LastLogin is the zero Time if the player never logged in or the time is not known.
	LastLogin time.Time
}

// ParseAuthText parses the lines of an auth.txt file, each of the form
// name:password:privileges:last_login with comma separated privileges. The privileges and last
// login time may be omitted.
func ParseAuthText(r io.Reader) ([]User, error) {
	var users []User
	s := bufio.NewScanner(r)
	for line := 1; s.Scan(); line++ {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}
		parts := strings.SplitN(text, ":", 4)
		u := User{Name: strings.TrimSpace(parts[0])}
		if u.Name == "" {
			return nil, errs.Format("auth.txt line %d: no player name", line)
		}
		if len(parts) > 1 {
			u.Password = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			u.Privileges = splitPrivileges(parts[2])
		}
		if len(parts) > 3 {
			v, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
			if err != nil {
				return nil, errs.Format("auth.txt line %d: last login %q", line, parts[3])
			}
			u.LastLogin = loginTime(v)
		}
		users = append(users, u)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("parse auth.txt: %w", err)
	}
	return users, nil
}

func splitPrivileges(s string) []string {
	var privs []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			privs = append(privs, p)
		}
	}
	return privs
}

func loginTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

// ReadAuthText reads the auth.txt file of the world directory dir. A world without the file
// has no users.
func ReadAuthText(dir string) ([]User, error) {
	f, err := os.Open(filepath.Join(dir, "auth.txt"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read auth.txt: %w", err)
	}
	defer f.Close()
	return ParseAuthText(f)
}

// ReadAuthSQLite reads the users of the auth.sqlite database in the world directory dir,
// which Luanti stores in the tables auth(id, name, password, last_login) and
// user_privileges(id, privilege). A world without the database has no users.
func ReadAuthSQLite(dir string) ([]User, error) {
	path := filepath.Join(dir, "auth.sqlite")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open auth.sqlite: %w", err)
	}
	defer db.Close()

	privs := make(map[int64][]string)
	rows, err := db.Query(`SELECT id, privilege FROM user_privileges ORDER BY id, privilege`)
	if err != nil {
		return nil, fmt.Errorf("read auth.sqlite: %w", err)
	}
	for rows.Next() {
		var (
			id   int64
			priv string
		)
		if err := rows.Scan(&id, &priv); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("read auth.sqlite: %w", err)
		}
		privs[id] = append(privs[id], priv)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("read auth.sqlite: %w", err)
	}

	rows, err = db.Query(`SELECT id, name, password, last_login FROM auth ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read auth.sqlite: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var (
			id, login int64
			u         User
		)
		if err := rows.Scan(&id, &u.Name, &u.Password, &login); err != nil {
			return nil, fmt.Errorf("read auth.sqlite: %w", err)
		}
		u.Privileges, u.LastLogin = privs[id], loginTime(login)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read auth.sqlite: %w", err)
	}
	return users, nil
}

// ErrNoWorldDir is returned by Provider.Users for providers opened on a Store.
var ErrNoWorldDir = errors.New("provider has no world directory")

// Users returns the player accounts of the world, read from the player database selected by
// the auth_backend setting of world.mt.
func (p *Provider) Users() ([]User, error) {
	if p.meta == nil {
		return nil, ErrNoWorldDir
	}
	switch backend := p.meta.AuthBackend(); backend {
	case AuthFiles:
		return ReadAuthText(p.conf.Dir)
	case AuthSQLite:
		return ReadAuthSQLite(p.conf.Dir)
	default:
		return nil, fmt.Errorf("read users: %w %q", ErrUnsupportedBackend, backend)
	}
}
