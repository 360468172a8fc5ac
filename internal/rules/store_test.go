// Copyright (c) 2026 John Earle
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

package rules

import (
	"strings"
	"testing"

	"github.com/paperchase/collector/internal/models"
)

// TestValidateRule verifies save-time pattern and destination checks.
func TestValidateRule(t *testing.T) {
	valid := models.RoutingRule{
		Name:       "hr",
		Conditions: models.RuleConditions{SenderPattern: `hr@acme\.com`, SubjectPattern: `invoice`},
		Actions:    models.RuleActions{DestinationID: "d1"},
	}
	if err := ValidateRule(valid); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}

	badSender := valid
	badSender.Conditions.SenderPattern = `hr@(`
	if err := ValidateRule(badSender); err == nil {
		t.Error("invalid sender pattern accepted")
	} else if !strings.Contains(err.Error(), "sender pattern") {
		t.Errorf("err = %v", err)
	}

	badSubject := valid
	badSubject.Conditions.SubjectPattern = `[unclosed`
	if err := ValidateRule(badSubject); err == nil {
		t.Error("invalid subject pattern accepted")
	}

	noDest := valid
	noDest.Actions.DestinationID = ""
	if err := ValidateRule(noDest); err == nil {
		t.Error("rule without destination accepted")
	}

	catchAll := models.RoutingRule{
		Name:    "default",
		Actions: models.RuleActions{DestinationID: "d1"},
	}
	if err := ValidateRule(catchAll); err != nil {
		t.Errorf("catch-all rejected: %v", err)
	}
}
