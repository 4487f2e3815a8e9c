package memtest

// fallbackBudget is used when host memory cannot be queried.
const fallbackBudget = 1 << 30
