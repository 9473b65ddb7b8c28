package checkin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testBotToken = "12345:TESTTOKEN"

// signInitData produces init data signed the way the platform does.
func signInitData(botToken string, fields map[string]string) string {
	lines := make([]string, 0, len(fields))
	for k, v := range fields {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, v)
	}
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func TestVerifyWebAppDataValid(t *testing.T) {
	now := time.Now()
	data := signInitData(testBotToken, map[string]string{
		"auth_date": strconv.FormatInt(now.Unix(), 10),
		"query_id":  "AAF9x",
		"user":      `{"id":555,"first_name":"Mallory","username":"mal"}`,
	})

	user, err := VerifyWebAppData(testBotToken, data, now)
	if err != nil {
		t.Fatalf("VerifyWebAppData: %v", err)
	}
	if user.ID != 555 || user.Username != "mal" {
		t.Errorf("user: %+v", user)
	}
}

func TestVerifyWebAppDataTamperedField(t *testing.T) {
	now := time.Now()
	data := signInitData(testBotToken, map[string]string{
		"auth_date": strconv.FormatInt(now.Unix(), 10),
		"user":      `{"id":555}`,
	})
	tampered := strings.Replace(data, "555", "666", 1)

	if _, err := VerifyWebAppData(testBotToken, tampered, now); !errors.Is(err, ErrWebAppSignature) {
		t.Errorf("error: %v", err)
	}
}

func TestVerifyWebAppDataWrongToken(t *testing.T) {
	now := time.Now()
	data := signInitData("99999:OTHERTOKEN", map[string]string{
		"auth_date": strconv.FormatInt(now.Unix(), 10),
		"user":      `{"id":555}`,
	})

	if _, err := VerifyWebAppData(testBotToken, data, now); !errors.Is(err, ErrWebAppSignature) {
		t.Errorf("error: %v", err)
	}
}

func TestVerifyWebAppDataStale(t *testing.T) {
	now := time.Now()
	data := signInitData(testBotToken, map[string]string{
		"auth_date": strconv.FormatInt(now.Add(-2*time.Hour).Unix(), 10),
		"user":      `{"id":555}`,
	})

	if _, err := VerifyWebAppData(testBotToken, data, now); !errors.Is(err, ErrWebAppStale) {
		t.Errorf("error: %v", err)
	}
}

func TestVerifyWebAppDataMissingHash(t *testing.T) {
	if _, err := VerifyWebAppData(testBotToken, "auth_date=1&user=%7B%22id%22%3A5%7D", time.Now()); err == nil {
		t.Error("expected error for unsigned data")
	}
}
