package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/mcpeval/internal/bench"
)

var startToolDef = mcp.NewTool(bench.ToolStartBenchmark,
	mcp.WithDescription("Start the MCP client benchmark. Begins a new run and exposes the next step."),
)

var chooseCategoryToolDef = mcp.NewTool(bench.ToolChooseCategory,
	mcp.WithDescription("Choose a food category. Read the restaurant_list resource for the available categories."),
	mcp.WithString("category",
		mcp.Required(),
		mcp.Description("Category name, e.g. Sushi"),
	),
)

var selectMenuToolDef = mcp.NewTool(bench.ToolSelectMenu,
	mcp.WithDescription("Select a restaurant from the chosen category by its id from the restaurant_list resource."),
	mcp.WithString("menu_id",
		mcp.Required(),
		mcp.Description("Restaurant id as listed in restaurant_list"),
	),
)

var submitDetailsToolDef = mcp.NewTool(bench.ToolSubmitDetails,
	mcp.WithDescription("Submit reservation details. Only offered to clients that cannot answer elicitation requests."),
	mcp.WithNumber("guests",
		mcp.Required(),
		mcp.Description("Number of guests (1-20)"),
		mcp.Min(1),
		mcp.Max(20),
	),
	mcp.WithString("time",
		mcp.Required(),
		mcp.Description("Reservation time (HH:MM)"),
		mcp.Pattern(`^\d{2}:\d{2}$`),
	),
)

var getConfirmationToolDef = mcp.NewTool(bench.ToolGetConfirmation,
	mcp.WithDescription("Generate the confirmation email for the reservation."),
)

var verifyCodeToolDef = mcp.NewTool(bench.ToolVerifyCode,
	mcp.WithDescription("Verify the confirmation code found in the confirmation_email resource."),
	mcp.WithString("code",
		mcp.Required(),
		mcp.Description("The 6-character confirmation code"),
	),
)

var tryAgainToolDef = mcp.NewTool(bench.ToolTryAgain,
	mcp.WithDescription("Discard the finished run and start over on a new one."),
)
