/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transform

import (
	"strings"

	"github.com/altairalabs/costflow/internal/focus"
)

// serviceCategoryAliases maps common provider spellings onto FOCUS service
// categories. Lookup is case-insensitive; unknown values pass through for
// the workflow's enum correction to handle.
var serviceCategoryAliases = map[string]focus.ServiceCategory{
	"ai":                      focus.ServiceCategoryAI,
	"ai/ml":                   focus.ServiceCategoryAI,
	"machine learning":        focus.ServiceCategoryAI,
	"artificial intelligence": focus.ServiceCategoryAI,
	"database":                focus.ServiceCategoryDatabases,
	"db":                      focus.ServiceCategoryDatabases,
	"compute engine":          focus.ServiceCategoryCompute,
	"virtual machines":        focus.ServiceCategoryCompute,
	"network":                 focus.ServiceCategoryNetworking,
	"security":                focus.ServiceCategorySecurity,
	"identity":                focus.ServiceCategorySecurity,
	"object storage":          focus.ServiceCategoryStorage,
	"developer tool":          focus.ServiceCategoryDevTools,
	"management":              focus.ServiceCategoryManagement,
	"governance":              focus.ServiceCategoryManagement,
}

// CanonicalServiceCategory resolves a raw category string to a FOCUS
// category: exact values pass through, known aliases rename, everything
// else returns unchanged for downstream correction.
func CanonicalServiceCategory(raw string) focus.ServiceCategory {
	c := focus.ServiceCategory(raw)
	if focus.ValidServiceCategory(c) {
		return c
	}
	if alias, ok := serviceCategoryAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return alias
	}
	return c
}
