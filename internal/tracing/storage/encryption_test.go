// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"flow.name":"Book"}`)
	encrypted, err := key.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if encrypted == string(plaintext) {
		t.Error("ciphertext equals plaintext")
	}

	decrypted, err := key.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q", decrypted)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	key1, _ := GenerateEncryptionKey()
	key2, _ := GenerateEncryptionKey()

	encrypted, err := key1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := key2.Decrypt(encrypted); err == nil {
		t.Error("decryption with the wrong key succeeded")
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	key, _ := GenerateEncryptionKey()
	if _, err := key.Decrypt("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := key.Decrypt("c2hvcnQ="); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}

func TestLoadEncryptionKey(t *testing.T) {
	t.Setenv("BOOKFLOW_TRACE_KEY", "")
	key, err := LoadEncryptionKey()
	if err != nil || key != nil {
		t.Errorf("unset variable: key=%v err=%v", key, err)
	}

	// A base64 32-byte value is used directly.
	generated, _ := GenerateEncryptionKey()
	t.Setenv("BOOKFLOW_TRACE_KEY", generated.String())
	key, err = LoadEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}
	if key.String() != generated.String() {
		t.Error("base64 key was not used directly")
	}

	// Anything else is a passphrase, stretched deterministically.
	t.Setenv("BOOKFLOW_TRACE_KEY", "correct horse battery staple")
	first, err := LoadEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}
	second, _ := LoadEncryptionKey()
	if first.String() != second.String() {
		t.Error("passphrase derivation is not deterministic")
	}
}
