// Пакет blobstore — хранение загруженных файлов датасетов на диске.
// Обеспечивает streaming-запись с ограничением размера и подсчётом
// SHA-256 на лету, чтение, удаление и получение размера.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Ошибки хранилища.
var (
	// ErrTooLarge — размер данных превышает допустимый.
	ErrTooLarge = errors.New("размер файла превышает допустимый")
	// ErrNotFound — файл отсутствует в хранилище.
	ErrNotFound = errors.New("файл не найден в хранилище")
	// ErrInvalidKey — ключ указывает за пределы директории хранилища.
	ErrInvalidKey = errors.New("недопустимый ключ файла")
)

// Store — файловое хранилище в локальной директории.
type Store struct {
	// dataDir — корневая директория хранения файлов (ND_DATA_DIR)
	dataDir string
}

// PutResult — результат сохранения файла.
type PutResult struct {
	// Key — имя файла в хранилище (локатор)
	Key string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт хранилище, при необходимости создавая директорию.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{dataDir: dataDir}, nil
}

// Put записывает данные из reader, не более maxSize байт.
// Формат ключа: {name}_{owner}_{timestamp}_{uuid}.{ext}
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке или превышении размера temp файл удаляется.
func (s *Store) Put(reader io.Reader, originalFilename, owner string, maxSize int64) (*PutResult, error) {
	key := generateKey(originalFilename, owner)
	fullPath := filepath.Join(s.dataDir, key)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	cleanup := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	// Читаем на один байт больше лимита, чтобы обнаружить превышение
	hasher := sha256.New()
	limited := io.LimitReader(reader, maxSize+1)
	size, err := io.Copy(f, io.TeeReader(limited, hasher))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > maxSize {
		cleanup()
		return nil, ErrTooLarge
	}

	if err := f.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &PutResult{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (s *Store) Open(key string) (*os.File, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}
	return f, nil
}

// Size возвращает размер файла в байтах.
func (s *Store) Size(key string) (int64, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return info.Size(), nil
}

// Delete удаляет файл. Отсутствие файла ошибкой не считается.
func (s *Store) Delete(key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	return nil
}

// CheckReady проверяет, что директория данных существует и доступна.
// Возвращает статус ("ok", "fail") и сообщение.
func (s *Store) CheckReady() (status, message string) {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return "fail", fmt.Sprintf("директория данных недоступна: %s", err.Error())
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", s.dataDir)
	}
	return "ok", ""
}

// DataDir возвращает путь к директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// path возвращает абсолютный путь по ключу. Ключ — только имя файла,
// без разделителей каталогов.
func (s *Store) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dataDir, key), nil
}

// generateKey генерирует имя файла для хранения.
// Пример: population_2024_marie_20260221150405_a1b2c3d4.csv
func generateKey(originalFilename, owner string) string {
	base := filepath.Base(originalFilename)
	ext := strings.ToLower(filepath.Ext(base))
	name := strings.TrimSuffix(base, filepath.Ext(base))

	name = truncateRunes(sanitize(name), 50)
	user := truncateRunes(sanitize(owner), 20)

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]

	return fmt.Sprintf("%s_%s_%s_%s%s", name, user, ts, uid, sanitizeExt(ext))
}

// sanitize оставляет буквы (любого алфавита), цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// sanitizeExt оставляет расширение только из латинских букв и цифр.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "." + b.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
