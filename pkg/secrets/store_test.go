// Copyright 2026 fanjia1024
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

package secrets

import (
	"context"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Error("Get on missing key should error")
	}
	if err := s.Set(ctx, "dsn", "postgres://localhost/vault"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, "dsn")
	if err != nil || v != "postgres://localhost/vault" {
		t.Errorf("Get = %q, %v", v, err)
	}
	if err := s.Delete(ctx, "dsn"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "dsn"); err == nil {
		t.Error("Get after Delete should error")
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Setenv("VAULT_TEST_SECRET", "s3cret")
	v, err := Resolve(ctx, nil, "env:VAULT_TEST_SECRET")
	if err != nil || v != "s3cret" {
		t.Errorf("Resolve env = %q, %v", v, err)
	}

	v, err = Resolve(ctx, nil, "plain-value")
	if err != nil || v != "plain-value" {
		t.Errorf("Resolve plain = %q, %v", v, err)
	}

	if _, err := Resolve(ctx, nil, "vault:db/dsn"); err == nil {
		t.Error("Resolve vault ref without store should error")
	}
}
