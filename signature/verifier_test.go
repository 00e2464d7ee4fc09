package signature

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier(5 * time.Minute)
	v.Now = func() time.Time { return now }
	return v
}

func TestVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"clientId":"c-1","event":"lead.created"}`)
	valid := Sign(body, ts, testSecret)

	for scenario, tc := range map[string]struct {
		body      []byte
		signature string
		timestamp string
		secret    string
		want      Result
	}{
		"valid":                  {body, valid, ts, testSecret, ACCEPT},
		"valid with prefix":      {body, SIGNATURE_PREFIX + valid, ts, testSecret, ACCEPT},
		"missing signature":      {body, "", ts, testSecret, MISSING_SIGNATURE},
		"missing timestamp":      {body, valid, "", testSecret, MISSING_SIGNATURE},
		"wrong secret":           {body, valid, ts, "other", INVALID_SIGNATURE},
		"empty secret":           {body, valid, ts, "", INVALID_SIGNATURE},
		"non hex signature":      {body, "zz-not-hex", ts, testSecret, INVALID_SIGNATURE},
		"malformed timestamp":    {body, valid, "yesterday", testSecret, INVALID_SIGNATURE},
		"different body":         {[]byte(`{"clientId":"c-2"}`), valid, ts, testSecret, INVALID_SIGNATURE},
		"reserialized body":      {[]byte(`{"clientId": "c-1", "event": "lead.created"}`), valid, ts, testSecret, INVALID_SIGNATURE},
		"stale within skew edge": {body, Sign(body, strconv.FormatInt(now.Add(-5*time.Minute).Unix(), 10), testSecret), strconv.FormatInt(now.Add(-5*time.Minute).Unix(), 10), testSecret, ACCEPT},
	} {
		t.Run(scenario, func(t *testing.T) {
			v := newTestVerifier(now)
			require.Equal(t, tc.want, v.Verify(tc.body, tc.signature, tc.timestamp, tc.secret))
		})
	}
}

func TestVerifySingleByteAlteration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"loanId":"L-42","amount":350000}`)
	sig := Sign(body, ts, testSecret)
	v := newTestVerifier(now)
	require.Equal(t, ACCEPT, v.Verify(body, sig, ts, testSecret))

	for i := range body {
		altered := append([]byte(nil), body...)
		altered[i] ^= 0x01
		require.Equal(t, INVALID_SIGNATURE, v.Verify(altered, sig, ts, testSecret), "body byte %d", i)
	}
	for i := range sig {
		altered := []byte(sig)
		if altered[i] == '0' {
			altered[i] = '1'
		} else {
			altered[i] = '0'
		}
		require.Equal(t, INVALID_SIGNATURE, v.Verify(body, string(altered), ts, testSecret), "signature byte %d", i)
	}
	for i := range sig {
		if sig[i] < 'a' || sig[i] > 'f' {
			continue
		}
		upper := []byte(sig)
		upper[i] = sig[i] - 'a' + 'A'
		require.Equal(t, INVALID_SIGNATURE, v.Verify(body, string(upper), ts, testSecret), "signature case flip %d", i)
	}
	require.Equal(t, INVALID_SIGNATURE, v.Verify(body, strings.ToUpper(sig), ts, testSecret))
	for i := range ts {
		altered := []byte(ts)
		if altered[i] == '9' {
			altered[i] = '8'
		} else {
			altered[i]++
		}
		require.NotEqual(t, ACCEPT, v.Verify(body, sig, string(altered), testSecret), "timestamp byte %d", i)
	}
}

func TestVerifySkewWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)
	body := []byte(`{}`)

	stale := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	require.Equal(t, STALE_TIMESTAMP, v.Verify(body, Sign(body, stale, testSecret), stale, testSecret))

	future := strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10)
	require.Equal(t, FUTURE_TIMESTAMP, v.Verify(body, Sign(body, future, testSecret), future, testSecret))
}

func TestStaticSecrets(t *testing.T) {
	s := &StaticSecrets{Default: "global", PerWorkflow: map[string]string{"wf-1": "scoped"}}
	secret, err := s.SecretFor(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, "scoped", secret)
	secret, err = s.SecretFor(context.Background(), "wf-2")
	require.NoError(t, err)
	require.Equal(t, "global", secret)
}
