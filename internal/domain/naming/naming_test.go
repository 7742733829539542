package naming

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

var storedNameRe = regexp.MustCompile(`^[0-9]+-[0-9a-f]{12}`)

// TestStoredName_Format проверяет формат имени и сохранение расширения.
func TestStoredName_Format(t *testing.T) {
	now := time.UnixMilli(1760702400123)
	rnd := bytes.NewReader([]byte{0x9f, 0x2c, 0x4a, 0xb0, 0x1e, 0x7d})

	got := storedName(now, rnd, "report.pdf")
	if got != "1760702400123-9f2c4ab01e7d.pdf" {
		t.Errorf("storedName = %q", got)
	}
}

// TestStoredName_Extensions проверяет обработку расширений.
func TestStoredName_Extensions(t *testing.T) {
	tests := []struct {
		original string
		wantExt  string
	}{
		{"report.pdf", ".pdf"},
		{"archive.tar.gz", ".gz"},
		{"README", ""},
		{"photo.JPG", ".JPG"},
		{"", ""},
		{"dir/evil.sh", ".sh"},
		{`x.a\b`, ""},
	}

	for _, tt := range tests {
		name := StoredName(tt.original)
		if !storedNameRe.MatchString(name) {
			t.Errorf("StoredName(%q) = %q: неверный формат", tt.original, name)
		}
		rest := storedNameRe.ReplaceAllString(name, "")
		if rest != tt.wantExt {
			t.Errorf("StoredName(%q): расширение %q, ожидается %q", tt.original, rest, tt.wantExt)
		}
		if strings.ContainsAny(name, `/\`) {
			t.Errorf("StoredName(%q) = %q содержит разделитель пути", tt.original, name)
		}
	}
}

// TestCheckExtension проверяет предел длины расширения и то, что имя blob'а
// с максимальным расширением и временным префиксом помещается в NAME_MAX.
func TestCheckExtension(t *testing.T) {
	maxExt := "." + strings.Repeat("x", MaxExtensionLen-1)
	tests := []struct {
		original string
		wantErr  bool
	}{
		{"report.pdf", false},
		{"README", false},
		{"a" + maxExt, false},
		{"a." + strings.Repeat("x", MaxExtensionLen), true},
		{"a." + strings.Repeat("x", 250), true},
		// Расширение с обратным слэшем отбрасывается целиком
		{"a." + strings.Repeat("x", 200) + `\b`, false},
	}

	for _, tt := range tests {
		err := CheckExtension(tt.original)
		if tt.wantErr != (err != nil) {
			t.Errorf("CheckExtension(%d байт): ошибка %v, ожидалась: %v", len(tt.original), err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrExtensionTooLong) {
			t.Errorf("ожидалась ErrExtensionTooLong, получено %v", err)
		}
	}

	name := StoredName("a" + maxExt)
	if n := len(".tmp-" + name); n > 255 {
		t.Errorf("временное имя blob'а %d байт превышает NAME_MAX", n)
	}
}

// TestStoredName_Unique проверяет уникальность имён при конкурентной генерации.
func TestStoredName_Unique(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for range perWorker {
				local = append(local, StoredName("same.txt"))
			}
			mu.Lock()
			defer mu.Unlock()
			for _, n := range local {
				if seen[n] {
					t.Errorf("повтор имени: %s", n)
				}
				seen[n] = true
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("уникальных имён %d, ожидалось %d", len(seen), workers*perWorker)
	}
}

// TestOwnerKey_Examples проверяет известные преобразования.
func TestOwnerKey_Examples(t *testing.T) {
	tests := []struct {
		identity string
		want     string
	}{
		{"alice@example.com", "alice_40example_2ecom"},
		{"a.b@c", "a_2eb_40c"},
		{"a@b.c", "a_40b_2ec"},
		{"user_1", "user_5f1"},
		{"Bob-42", "Bob-42"},
		{"иван", "_d0_b8_d0_b2_d0_b0_d0_bd"},
	}

	for _, tt := range tests {
		got, err := OwnerKey(tt.identity)
		if err != nil {
			t.Errorf("OwnerKey(%q): неожиданная ошибка: %v", tt.identity, err)
			continue
		}
		if got != tt.want {
			t.Errorf("OwnerKey(%q) = %q, ожидается %q", tt.identity, got, tt.want)
		}
	}
}

// TestOwnerKey_Deterministic проверяет детерминированность.
func TestOwnerKey_Deterministic(t *testing.T) {
	a, _ := OwnerKey("alice@example.com")
	b, _ := OwnerKey("alice@example.com")
	if a != b {
		t.Errorf("разные ключи для одной идентичности: %q и %q", a, b)
	}
}

// TestOwnerKey_Distinct проверяет, что разные идентичности дают разные ключи,
// включая пары, которые склеиваются при наивной замене символов.
func TestOwnerKey_Distinct(t *testing.T) {
	identities := []string{
		"alice@example.com", "bob@example.com", "alice@example.org",
		"a.b@c", "a@b.c", "a_b@c", "a-b@c",
		"alice_example_com", "alice.example.com", "alice@example_com",
		"Alice@example.com", "user_40x", "user@x",
	}

	keys := make(map[string]string, len(identities))
	for _, id := range identities {
		k, err := OwnerKey(id)
		if err != nil {
			t.Fatalf("OwnerKey(%q): %v", id, err)
		}
		if other, ok := keys[k]; ok {
			t.Errorf("коллизия ключей: %q и %q → %q", other, id, k)
		}
		keys[k] = id
	}
}

// TestOwnerKey_Empty проверяет отказ на пустую идентичность.
func TestOwnerKey_Empty(t *testing.T) {
	for _, id := range []string{"", "   ", "\t"} {
		if _, err := OwnerKey(id); !errors.Is(err, ErrEmptyIdentity) {
			t.Errorf("OwnerKey(%q): ожидалась ErrEmptyIdentity, получено %v", id, err)
		}
	}
}

// TestOwnerKey_Length проверяет предел длины ключа: экранирование
// утраивает длину, поэтому проверяется длина ключа, а не идентичности.
func TestOwnerKey_Length(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		wantErr  bool
	}{
		{"безопасные символы, ровно предел", strings.Repeat("a", MaxOwnerKeyLen), false},
		{"безопасные символы, на байт больше", strings.Repeat("a", MaxOwnerKeyLen+1), true},
		{"85 экранируемых байт", strings.Repeat(".", 85), false},
		{"86 экранируемых байт", strings.Repeat(".", 86), true},
		{"длинный email с точками", strings.Repeat("a.", 90) + "b@example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := OwnerKey(tt.identity)
			if tt.wantErr {
				if !errors.Is(err, ErrOwnerKeyTooLong) {
					t.Errorf("ожидалась ErrOwnerKeyTooLong, получено %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if len(key) > MaxOwnerKeyLen || !IsOwnerKey(key) {
				t.Errorf("ключ %d байт не принят IsOwnerKey", len(key))
			}
		})
	}

	if IsOwnerKey(strings.Repeat("a", MaxOwnerKeyLen+1)) {
		t.Error("IsOwnerKey принял ключ длиннее предела")
	}
}

// TestDecodeOwnerKey_RoundTrip проверяет обратимость преобразования.
func TestDecodeOwnerKey_RoundTrip(t *testing.T) {
	for _, id := range []string{"alice@example.com", "a.b@c", "user_1", "иван петров", "x/y\\z:1"} {
		key, err := OwnerKey(id)
		if err != nil {
			t.Fatalf("OwnerKey(%q): %v", id, err)
		}
		back, err := DecodeOwnerKey(key)
		if err != nil {
			t.Fatalf("DecodeOwnerKey(%q): %v", key, err)
		}
		if back != id {
			t.Errorf("DecodeOwnerKey(OwnerKey(%q)) = %q", id, back)
		}
		if !IsOwnerKey(key) {
			t.Errorf("IsOwnerKey(%q) = false", key)
		}
	}
}

// TestDecodeOwnerKey_Invalid проверяет отказ на неканонические ключи.
func TestDecodeOwnerKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "abc_", "abc_4", "a_zz", "a_4A", "a_61", "a.b", "a@b"} {
		if _, err := DecodeOwnerKey(key); err == nil {
			t.Errorf("DecodeOwnerKey(%q): ожидалась ошибка", key)
		}
	}
}
