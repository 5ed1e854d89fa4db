package detect

import (
	"fmt"
	"strings"
)

// dispatchWrapper renders the handler that routes an incoming HTTP
// request to the matching method module. The method table is sorted so
// identical inputs always render identical bytes.
func dispatchWrapper(methods []string) []byte {
	var table strings.Builder
	for _, m := range methods {
		fmt.Fprintf(&table, "    %q: %q,\n", m, strings.ToLower(m))
	}

	return []byte(fmt.Sprintf(`import importlib
import json

ROUTES = {
%s}


def lambda_handler(event, context):
    method = (
        event.get("requestContext", {}).get("http", {}).get("method")
        or event.get("httpMethod")
        or ""
    ).upper()
    module_name = ROUTES.get(method)
    if module_name is None:
        return {
            "statusCode": 405,
            "body": json.dumps({"message": "method not allowed"}),
        }
    module = importlib.import_module(module_name)
    return module.main(event, context)
`, table.String()))
}

// healthHandler renders the canned health endpoint body.
func healthHandler() []byte {
	return []byte(`import json


def main(event, context):
    return {
        "statusCode": 200,
        "headers": {"Content-Type": "application/json"},
        "body": json.dumps({"message": "This endpoint is responding as it should!"}),
    }
`)
}
